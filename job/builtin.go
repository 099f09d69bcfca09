package job

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Built-in job types, mainly useful for smoke-testing a deployment.
const (
	TypeSleep = "sleep"
	TypeFail  = "fail"
)

// maxSleepSeconds caps the sleep handler so a bad payload cannot park a
// worker for hours.
const maxSleepSeconds = 300

// SleepPayload drives the built-in sleep handler. Zero means the default
// of one second.
type SleepPayload struct {
	SleepSeconds int `json:"sleep_seconds"`
}

// FailPayload drives the built-in fail handler.
type FailPayload struct {
	Message string `json:"message"`
}

// RegisterBuiltins installs the sleep and fail handlers on reg.
func RegisterBuiltins(reg *Registry) {
	RegisterDefinition(reg, NewDefinition(TypeSleep, runSleep))
	RegisterDefinition(reg, NewDefinition(TypeFail, runFail))
}

func runSleep(ctx context.Context, p SleepPayload) error {
	seconds := p.SleepSeconds
	if seconds == 0 {
		seconds = 1
	}
	if seconds < 0 || seconds > maxSleepSeconds {
		return fmt.Errorf("sleep_seconds must be between 1 and %d, got %d", maxSleepSeconds, seconds)
	}

	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runFail(_ context.Context, p FailPayload) error {
	if p.Message == "" {
		return errors.New("intentional failure for testing")
	}
	return errors.New(p.Message)
}
