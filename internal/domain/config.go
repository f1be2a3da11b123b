package domain

// KeyPrefix namespaces every key the service writes to the vector backend.
const KeyPrefix = "hybridcoord:"
