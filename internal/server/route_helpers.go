package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/genieops/internal/handlers"
)

// RouteHandler is a function type for HTTP handlers
type RouteHandler func(http.ResponseWriter, *http.Request)

// MethodRouter maps HTTP methods to handlers
type MethodRouter map[string]RouteHandler

// RouteByMethod routes requests based on HTTP method with standardized error handling
func RouteByMethod(w http.ResponseWriter, r *http.Request, routes MethodRouter) {
	handler, ok := routes[r.Method]
	if !ok {
		handlers.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	handler(w, r)
}

// PathSuffixRouter checks if path ends with a specific suffix and routes to handler
type PathSuffixRouter struct {
	Suffix  string
	Handler RouteHandler
}

// RouteByPathSuffix routes requests based on path suffix.
// Returns true if a route was matched and handled.
func RouteByPathSuffix(w http.ResponseWriter, r *http.Request, prefix string, routes []PathSuffixRouter) bool {
	path := r.URL.Path
	if len(path) <= len(prefix) {
		return false
	}

	pathSuffix := path[len(prefix):]
	for _, route := range routes {
		if strings.HasSuffix(pathSuffix, route.Suffix) {
			route.Handler(w, r)
			return true
		}
	}
	return false
}

// RouteResource routes a collection path (GET list, POST create) and its
// item paths (GET, PUT, DELETE) registered under one prefix
func RouteResource(w http.ResponseWriter, r *http.Request, prefix string, list, create, get, update, del RouteHandler) {
	if strings.TrimSuffix(r.URL.Path, "/") == strings.TrimSuffix(prefix, "/") {
		RouteByMethod(w, r, MethodRouter{"GET": list, "POST": create})
		return
	}
	if strings.Contains(strings.TrimPrefix(r.URL.Path, prefix), "/") {
		handlers.WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	RouteByMethod(w, r, MethodRouter{"GET": get, "PUT": update, "DELETE": del})
}
