package health

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quotefeed/internal/bus"
	"quotefeed/internal/model"
)

// processAlerts drives the alert lifecycle for one cycle: raise alerts for
// unhealthy components unless an identical one is still inside its cooldown,
// and resolve every active alert for components that came back healthy.
func (c *Checker) processAlerts(ctx context.Context, components []model.ComponentHealth) {
	now := time.Now().UTC()

	var triggered, resolved []model.Alert

	c.mu.Lock()
	for _, comp := range components {
		if comp.Healthy {
			// resolve everything raised for this component, whatever the
			// status it was raised under
			for key, a := range c.active {
				if a.Component != comp.Name {
					continue
				}
				ts := now
				a.Resolved = true
				a.ResolvedAt = &ts
				resolved = append(resolved, a)
				delete(c.active, key)
			}
			continue
		}

		key := model.AlertKey(comp.Name, comp.Status)
		if prev, ok := c.active[key]; ok && now.Sub(prev.CreatedAt) < c.cfg.Cooldown {
			continue // suppressed: identical alert inside cooldown
		}
		a := model.Alert{
			ID:        uuid.NewString(),
			Component: comp.Name,
			Status:    comp.Status,
			Severity:  model.SeverityFor(comp.Status),
			Message:   alertMessage(comp),
			CreatedAt: now,
		}
		c.active[key] = a
		triggered = append(triggered, a)
	}
	c.mu.Unlock()

	for _, a := range triggered {
		c.persistAlert(ctx, a)
		c.log.Warn("alert triggered", "alert", a.Component, "status", a.Status, "severity", a.Severity, "message", a.Message)
		c.bus.Publish(bus.Event{Kind: bus.KindAlertTriggered, Alert: &a})
	}
	for _, a := range resolved {
		c.persistAlert(ctx, a)
		c.log.Info("alert resolved", "alert", a.Component, "status", a.Status)
		c.bus.Publish(bus.Event{Kind: bus.KindAlertResolved, Alert: &a})
	}
}

func (c *Checker) persistAlert(ctx context.Context, a model.Alert) {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	if err := c.store.PushAlert(pctx, a, c.cfg.AlertLogMax); err != nil {
		c.log.Warn("alert persist failed", "alert", a.Component, "error", err)
	}
}

func alertMessage(comp model.ComponentHealth) string {
	if comp.Error != "" {
		return fmt.Sprintf("%s is %s: %s", comp.Name, comp.Status, comp.Error)
	}
	return fmt.Sprintf("%s is %s", comp.Name, comp.Status)
}
