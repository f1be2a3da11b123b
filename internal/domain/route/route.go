package route

// Route is the inference backend chosen for a query.
type Route string

// Route constants.
const (
	// Local is the free local inference backend.
	Local Route = "local"
	// Remote is the paid remote inference backend.
	Remote Route = "remote"
)

// IsValid checks if the route is one of the supported values.
func (r Route) IsValid() bool {
	return r == Local || r == Remote
}
