package main

import (
	"testing"
	"time"
)

func TestConfigValidate_OK(t *testing.T) {
	c := &appConfig{
		serialDev:    "/dev/null",
		baud:         115200,
		serialReadTO: 10 * time.Millisecond,
		logFormat:    "text",
		logLevel:     "info",
		backend:      "serial",
		canIf:        "can0",
		nodeID:       "02.01.0D.00.00.01",
	}
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badNodeID", func(c *appConfig) { c.nodeID = "not-hex" }},
	}
	for _, tc := range tests {
		base := &appConfig{
			serialDev: "/dev/null", baud: 115200, serialReadTO: 10 * time.Millisecond,
			logFormat: "text", logLevel: "info", backend: "serial", canIf: "can0",
			nodeID: "02.01.0D.00.00.01",
		}
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
