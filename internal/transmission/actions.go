package transmission

import (
	"context"
	"errors"
	"fmt"

	"github.com/micro-ha/transmission-sync/internal/client"
	"github.com/micro-ha/transmission-sync/internal/metrics"
	"github.com/micro-ha/transmission-sync/internal/model"
	"github.com/micro-ha/transmission-sync/internal/notify"
)

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) { return f(ctx, prompt) }

// Confirmed approves every prompt. Use it only where the caller already
// collected consent, e.g. an explicit confirm flag.
var Confirmed = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })

type consentKey struct{}

// WithConsent marks ctx as carrying the user's approval for this call.
func WithConsent(ctx context.Context) context.Context {
	return context.WithValue(ctx, consentKey{}, true)
}

// ConsentConfirmer approves a prompt only when its context went through
// WithConsent. Request-scoped surfaces such as the HTTP API use it.
var ConsentConfirmer = ConfirmFunc(func(ctx context.Context, _ string) (bool, error) {
	ok, _ := ctx.Value(consentKey{}).(bool)
	return ok, nil
})

// PreconditionError is a local rejection raised before any request is sent.
type PreconditionError struct {
	Action model.Action
	Reason string
}

func (e *PreconditionError) Error() string {
	if e == nil {
		return "precondition failed"
	}
	return fmt.Sprintf("%s: %s", e.Action, e.Reason)
}

// IsPrecondition reports whether err is a local rejection.
func IsPrecondition(err error) bool {
	var pre *PreconditionError
	return errors.As(err, &pre)
}

// Do runs action by name.
func (c *Controller) Do(ctx context.Context, action model.Action) error {
	switch action {
	case model.ActionTransmitNow:
		return c.TransmitNow(ctx)
	case model.ActionStart:
		return c.Start(ctx)
	case model.ActionPause:
		return c.Pause(ctx)
	case model.ActionResume:
		return c.Resume(ctx)
	case model.ActionStop:
		return c.Stop(ctx)
	default:
		return &PreconditionError{Action: action, Reason: "unknown action"}
	}
}

// TransmitNow sends the next row on the selected connection immediately.
func (c *Controller) TransmitNow(ctx context.Context) error {
	return c.perform(ctx, model.ActionTransmitNow, func(ctx context.Context, conn model.DeviceID) (client.ActionResult, error) {
		return c.api.Transmit(ctx, c.id, conn)
	})
}

// Start begins scheduled transmission on the selected connection.
func (c *Controller) Start(ctx context.Context) error {
	return c.perform(ctx, model.ActionStart, func(ctx context.Context, conn model.DeviceID) (client.ActionResult, error) {
		return c.api.StartTransmission(ctx, c.id, conn)
	})
}

func (c *Controller) Pause(ctx context.Context) error {
	return c.perform(ctx, model.ActionPause, func(ctx context.Context, _ model.DeviceID) (client.ActionResult, error) {
		return c.api.Pause(ctx, c.id)
	})
}

func (c *Controller) Resume(ctx context.Context) error {
	return c.perform(ctx, model.ActionResume, func(ctx context.Context, _ model.DeviceID) (client.ActionResult, error) {
		return c.api.Resume(ctx, c.id)
	})
}

// Stop asks for confirmation first; without it no request is sent.
func (c *Controller) Stop(ctx context.Context) error {
	if _, err := c.check(model.ActionStop); err != nil {
		c.reject(ctx, err)
		return err
	}
	if c.confirmer == nil {
		err := &PreconditionError{Action: model.ActionStop, Reason: "confirmation required"}
		c.reject(ctx, err)
		return err
	}
	ok, err := c.confirmer.Confirm(ctx, fmt.Sprintf("Stop transmission for device %s?", c.id))
	if err != nil {
		rejected := &PreconditionError{Action: model.ActionStop, Reason: "confirmation unavailable: " + err.Error()}
		c.reject(ctx, rejected)
		return rejected
	}
	if !ok {
		rejected := &PreconditionError{Action: model.ActionStop, Reason: "stop was not confirmed"}
		c.reject(ctx, rejected)
		return rejected
	}
	return c.perform(ctx, model.ActionStop, func(ctx context.Context, _ model.DeviceID) (client.ActionResult, error) {
		return c.api.Stop(ctx, c.id)
	})
}

func (c *Controller) perform(ctx context.Context, action model.Action, call func(context.Context, model.DeviceID) (client.ActionResult, error)) error {
	conn, err := c.begin(action)
	if err != nil {
		c.reject(ctx, err)
		return err
	}
	defer func() {
		c.finish(action)
		_ = c.Refresh(ctx)
	}()

	result, err := call(ctx, conn)
	if err != nil {
		outcome := "transport_error"
		if client.IsBusiness(err) {
			outcome = "rejected"
		}
		metrics.ActionsTotal.WithLabelValues(string(action), outcome).Inc()
		c.logger.Warn("action failed", "action", string(action), "err", err)
		c.notify(ctx, notify.LevelError, action, failureMessage(action, err))
		return err
	}

	metrics.ActionsTotal.WithLabelValues(string(action), "success").Inc()
	message := result.Message
	if message == "" {
		message = successMessage(action)
	}
	c.notify(ctx, notify.LevelSuccess, action, message)
	return nil
}

// check validates action against local state without claiming the button.
func (c *Controller) check(action model.Action) (model.DeviceID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkLocked(action)
}

func (c *Controller) checkLocked(action model.Action) (model.DeviceID, error) {
	reject := func(reason string) (model.DeviceID, error) {
		return "", &PreconditionError{Action: action, Reason: reason}
	}
	if c.closed {
		return reject("device view is closed")
	}
	if (action == model.ActionTransmitNow || action == model.ActionStart) && c.connectionID == "" {
		return reject("select a connection first")
	}
	if action == model.ActionTransmitNow && c.loaded && c.snapshot.CurrentState == model.StateManual {
		return reject("a manual transmission is already in progress")
	}
	if c.loading[action] {
		return reject("already in progress")
	}
	if c.loaded && !c.snapshot.AvailableActions.Get(action).Enabled {
		return reject(fmt.Sprintf("not available while %s", c.snapshot.CurrentState))
	}
	return c.connectionID, nil
}

func (c *Controller) begin(action model.Action) (model.DeviceID, error) {
	c.mu.Lock()
	conn, err := c.checkLocked(action)
	if err == nil {
		c.loading[action] = true
	}
	c.mu.Unlock()
	if err == nil {
		c.emit()
	}
	return conn, err
}

func (c *Controller) finish(action model.Action) {
	c.mu.Lock()
	delete(c.loading, action)
	c.mu.Unlock()
	c.emit()
}

func (c *Controller) reject(ctx context.Context, err error) {
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		return
	}
	metrics.ActionsTotal.WithLabelValues(string(pre.Action), "precondition").Inc()
	c.notify(ctx, notify.LevelWarning, pre.Action, pre.Reason)
}

func (c *Controller) notify(ctx context.Context, level notify.Level, action model.Action, message string) {
	if c.Closed() {
		return
	}
	c.notifier.Notify(ctx, notify.New(level, string(action), c.id, message))
}

func successMessage(action model.Action) string {
	switch action {
	case model.ActionTransmitNow:
		return "Transmission sent"
	case model.ActionStart:
		return "Transmission started"
	case model.ActionPause:
		return "Transmission paused"
	case model.ActionResume:
		return "Transmission resumed"
	case model.ActionStop:
		return "Transmission stopped"
	}
	return "Done"
}

func failureMessage(action model.Action, err error) string {
	if client.IsBusiness(err) {
		return client.Message(err)
	}
	return fmt.Sprintf("Could not %s: %v", operationName(action), err)
}

func operationName(action model.Action) string {
	switch action {
	case model.ActionTransmitNow:
		return "transmit now"
	case model.ActionStart:
		return "start transmission"
	}
	return string(action) + " transmission"
}
