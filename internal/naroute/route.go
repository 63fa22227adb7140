// Package naroute describes the console's protected destinations and the guard
// that keeps unauthenticated operators out of them. The route table is static:
// it's declared once at startup and never mutated, and drives both the router
// and the navigation rendered in the layout.
package naroute

import (
	"net/http"
	"strings"
	"sync"
)

const HomeBreadcrumb = "Home"

type Route struct {
	Key        string
	Path       string
	Label      string
	Icon       string
	Breadcrumb string
	View       *LazyView
	Children   []*Route
}

// LazyView is a view that isn't built until it's first served.
type LazyView struct {
	err     error
	handler http.Handler
	load    func() (http.Handler, error)
	once    sync.Once
}

func NewLazyView(load func() (http.Handler, error)) *LazyView {
	return &LazyView{load: load}
}

// Resolve builds the view on first call and returns the same result on every
// call after that, including a failure to build it.
func (v *LazyView) Resolve() (http.Handler, error) {
	v.once.Do(func() {
		v.handler, v.err = v.load()
	})
	return v.handler, v.err
}

func (v *LazyView) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler, err := v.Resolve()
	if err != nil {
		http.Error(w, "View could not be loaded.", http.StatusInternalServerError)
		return
	}

	handler.ServeHTTP(w, r)
}

type Table []*Route

// Flatten returns every route in the table, parents before their children.
func (t Table) Flatten() []*Route {
	var routes []*Route
	for _, route := range t {
		routes = append(routes, route)
		routes = append(routes, Table(route.Children).Flatten()...)
	}
	return routes
}

func (t Table) Find(path string) (*Route, bool) {
	for _, route := range t.Flatten() {
		if route.Path == path {
			return route, true
		}
	}
	return nil, false
}

type MenuItem struct {
	Children []MenuItem
	Icon     string
	Key      string
	Label    string
	Path     string
}

func (t Table) MenuItems() []MenuItem {
	items := make([]MenuItem, 0, len(t))
	for _, route := range t {
		items = append(items, MenuItem{
			Children: Table(route.Children).MenuItems(),
			Icon:     route.Icon,
			Key:      route.Key,
			Label:    route.Label,
			Path:     route.Path,
		})
	}
	return items
}

type Breadcrumb struct {
	Path  string
	Title string
}

// Breadcrumbs returns the trail for urlPath: a home crumb, followed by one
// crumb for each successively longer prefix of the path that matches a route
// with a breadcrumb label. Prefixes without one are skipped.
func (t Table) Breadcrumbs(urlPath string) []Breadcrumb {
	crumbs := []Breadcrumb{{Path: "/", Title: HomeBreadcrumb}}

	var segments []string
	for _, segment := range strings.Split(urlPath, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}

	for i := range segments {
		prefix := "/" + strings.Join(segments[:i+1], "/")

		route, ok := t.Find(prefix)
		if ok && route.Breadcrumb != "" {
			crumbs = append(crumbs, Breadcrumb{Path: prefix, Title: route.Breadcrumb})
		}
	}

	return crumbs
}
