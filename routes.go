package main

import (
	"context"
	"net/http"

	"github.com/brandur/neoadmin/internal/naroute"
)

// Builds the table of protected destinations. Every entry is mounted behind
// the guard and shown in the sidebar; views are only built the first time
// they're visited.
func (s *Server) buildRouteTable() naroute.Table {
	return naroute.Table{
		{
			Key:        "dashboard",
			Path:       "/dashboard",
			Label:      "Dashboard",
			Icon:       "dashboard",
			Breadcrumb: "Dashboard",
			View:       s.lazyPage("dashboard.tmpl.html", "Dashboard", s.dashboardContent),
		},
	}
}

func (s *Server) lazyPage(page, title string, content func(ctx context.Context, r *http.Request) (any, error)) *naroute.LazyView { //nolint:lll
	return naroute.NewLazyView(func() (http.Handler, error) {
		tmpl, err := parsePage(page)
		if err != nil {
			return nil, err
		}

		s.logger.Infof("Loaded view %q", page)
		return s.wrapEndpoint(s.pageEndpoint(tmpl, title, content)), nil
	})
}

func (s *Server) dashboardContent(ctx context.Context, r *http.Request) (any, error) {
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		// The operator has already been told through a notification, so the
		// page still renders, just without numbers.
		s.logger.Warnf("Error loading dashboard stats: %v", err)
		return &DashboardData{}, nil
	}

	return &DashboardData{Stats: stats}, nil
}
