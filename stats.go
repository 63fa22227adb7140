package main

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/brandur/neoadmin/internal/naclient"
)

type Stat struct {
	Icon  string `json:"icon"`
	Title string `json:"title"`
	Value int64  `json:"value"`
}

// StatsSource supplies the statistic cards shown on the dashboard.
type StatsSource interface {
	Stats(ctx context.Context) ([]Stat, error)
}

// StaticStatsSource serves a fixed set of sample numbers.
type StaticStatsSource struct{}

func (s *StaticStatsSource) Stats(ctx context.Context) ([]Stat, error) {
	return []Stat{
		{Icon: "user", Title: "Total users", Value: 1128},
		{Icon: "message", Title: "Messages", Value: 93},
		{Icon: "team", Title: "Active groups", Value: 12},
	}, nil
}

// APIStatsSource loads statistics from the backend API's
// `GET /dashboard/stats`.
type APIStatsSource struct {
	client *naclient.Client
}

func NewAPIStatsSource(client *naclient.Client) *APIStatsSource {
	return &APIStatsSource{client: client}
}

func (s *APIStatsSource) Stats(ctx context.Context) ([]Stat, error) {
	var stats []Stat
	if err := s.client.Get(ctx, "/dashboard/stats", &stats); err != nil {
		return nil, xerrors.Errorf("error getting dashboard stats: %w", err)
	}
	return stats, nil
}
