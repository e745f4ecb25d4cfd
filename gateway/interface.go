package gateway

import "github.com/gorilla/mux"

// HTTPHandler is implemented by components that expose routes on the
// gateway's router. prefix is the path prefix the routes are mounted under.
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, router *mux.Router)
}
