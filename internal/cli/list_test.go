package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

// TestFormatPortsList verifies that FormatPortsList renders allocations
// as service:port pairs in numeric port order.
func TestFormatPortsList(t *testing.T) {
	tests := []struct {
		name        string
		allocations []model.PortAllocation
		want        string
	}{
		{
			name:        "empty allocations returns dash",
			allocations: []model.PortAllocation{},
			want:        "-",
		},
		{
			name:        "nil allocations returns dash",
			allocations: nil,
			want:        "-",
		},
		{
			name: "single port",
			allocations: []model.PortAllocation{
				{ServiceName: "web", Port: 20000},
			},
			want: "web:20000",
		},
		{
			name: "sorted by port, not by name",
			allocations: []model.PortAllocation{
				{ServiceName: "web", Port: 20002},
				{ServiceName: "db", Port: 20000},
				{ServiceName: "mail", Port: 20001},
			},
			want: "db:20000,mail:20001,web:20002",
		},
		{
			name: "numeric rather than lexical order",
			allocations: []model.PortAllocation{
				{ServiceName: "a", Port: 20010},
				{ServiceName: "b", Port: 9000},
			},
			want: "b:9000,a:20010",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatPortsList(tt.allocations)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatPortsList_DoesNotReorderInput(t *testing.T) {
	allocs := []model.PortAllocation{{ServiceName: "web", Port: 2}, {ServiceName: "db", Port: 1}}
	FormatPortsList(allocs)
	assert.Equal(t, "web", allocs[0].ServiceName)
}

func TestFormatServiceAddress(t *testing.T) {
	tests := []struct {
		name          string
		containerPort int
		hostPort      int
		want          string
	}{
		{"http port", 8080, 20000, "http://127.0.0.1:20000"},
		{"wordpress", 80, 20001, "http://127.0.0.1:20001"},
		{"postgres", 5432, 20002, "127.0.0.1:20002"},
		{"unknown service", 0, 20003, "127.0.0.1:20003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatServiceAddress(tt.containerPort, tt.hostPort))
		})
	}
}
