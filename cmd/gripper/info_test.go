package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/gripper/pkg/gripper"
	"github.com/gwillem/gripper/pkg/servosim"
	"github.com/gwillem/gripper/pkg/sts"
)

func TestPrintServoInfo(t *testing.T) {
	servo := servosim.New(servosim.Config{ID: 3})
	servo.Set(sts.RegPresentPosition, 2600)
	servo.Set(sts.RegPresentVoltage, 121)
	client := sts.NewClient(servo, sts.ClientConfig{Timeout: 5 * time.Millisecond})

	cfg := gripper.DefaultConfig()
	cfg.ServoID = 3

	var out bytes.Buffer
	require.NoError(t, printServoInfo(context.Background(), &out, client, &cfg))

	s := out.String()
	assert.Contains(t, s, "model 777")
	assert.Contains(t, s, "present_position")
	assert.Contains(t, s, "2600")
	assert.Contains(t, s, "Travel: 50%")
	assert.Contains(t, s, "Supply: 12.1 V")
}

func TestPrintServoInfo_NoServo(t *testing.T) {
	servo := servosim.New(servosim.Config{ID: 1})
	client := sts.NewClient(servo, sts.ClientConfig{Timeout: 2 * time.Millisecond})

	cfg := gripper.DefaultConfig()
	cfg.ServoID = 9

	err := printServoInfo(context.Background(), &bytes.Buffer{}, client, &cfg)
	assert.ErrorIs(t, err, sts.ErrTimeout)
}
