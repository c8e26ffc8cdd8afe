package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := &appConfig{
		serialDev:       "/dev/null",
		baud:            115200,
		serialReadTO:    50 * time.Millisecond,
		logFormat:       "text",
		logLevel:        "info",
		metricsAddr:     "",
		backend:         "serial",
		canIf:           "can0",
		logMetricsEvery: 0,
		mdnsEnable:      false,
		mdnsName:        "",
		nodeID:          "02.01.0D.00.00.01",
	}

	os.Setenv("LCC_GATEWAY_BAUD", "230400")
	os.Setenv("LCC_GATEWAY_MDNS_ENABLE", "true")
	os.Setenv("LCC_GATEWAY_SERIAL_READ_TIMEOUT", "100ms")
	os.Setenv("LCC_GATEWAY_LOG_METRICS_INTERVAL", "5s")
	os.Setenv("LCC_GATEWAY_NODE_ID", "02.01.0D.00.00.02")
	t.Cleanup(func() {
		os.Unsetenv("LCC_GATEWAY_BAUD")
		os.Unsetenv("LCC_GATEWAY_MDNS_ENABLE")
		os.Unsetenv("LCC_GATEWAY_SERIAL_READ_TIMEOUT")
		os.Unsetenv("LCC_GATEWAY_LOG_METRICS_INTERVAL")
		os.Unsetenv("LCC_GATEWAY_NODE_ID")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", base.serialReadTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
	if base.nodeID != "02.01.0D.00.00.02" {
		t.Fatalf("expected nodeID override got %s", base.nodeID)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 115200}
	os.Setenv("LCC_GATEWAY_BAUD", "230400")
	t.Cleanup(func() { os.Unsetenv("LCC_GATEWAY_BAUD") })
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("expected baud unchanged 115200 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := &appConfig{baud: 115200}
	os.Setenv("LCC_GATEWAY_BAUD", "notint")
	t.Cleanup(func() { os.Unsetenv("LCC_GATEWAY_BAUD") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}
