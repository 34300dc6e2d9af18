package qmp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Shutdown asks the guest to power down via ACPI. The guest acknowledges
// immediately; actual exit is observed on the process, not here.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.Execute(ctx, "system_powerdown", nil)
	return err
}

// Quit terminates the hypervisor process without guest involvement.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.Execute(ctx, "quit", nil)
	return err
}

// VMRunState is the monitor's view of guest execution.
type VMRunState struct {
	Running bool   `json:"running"`
	Status  string `json:"status"`
}

// QueryStatus fetches the monitor's run state of the guest.
func (c *Client) QueryStatus(ctx context.Context) (VMRunState, error) {
	raw, err := c.Execute(ctx, "query-status", nil)
	if err != nil {
		return VMRunState{}, err
	}
	var st VMRunState
	if err := json.Unmarshal(raw, &st); err != nil {
		return VMRunState{}, fmt.Errorf("parse query-status return: %w", err)
	}
	return st, nil
}
