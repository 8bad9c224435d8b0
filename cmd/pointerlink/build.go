package main

import (
	"fmt"

	"github.com/ayusman/pointerlink/internal/app"
	"github.com/ayusman/pointerlink/internal/capture"
	"github.com/ayusman/pointerlink/internal/config"
	"github.com/ayusman/pointerlink/internal/detector"
	"github.com/ayusman/pointerlink/internal/link"
	"github.com/ayusman/pointerlink/internal/store"
	"github.com/ayusman/pointerlink/internal/target"
)

// newMarker builds the marker test named in the selector config, or nil.
func newMarker(sc config.SelectorConfig) detector.Marker {
	switch sc.Marker {
	case config.MarkerColor:
		return detector.NewColorMarker(sc.ColorRanges)
	case config.MarkerKeypoint:
		return &detector.KeypointMarker{A: sc.KeypointA, B: sc.KeypointB, Threshold: sc.KeypointThreshold}
	default:
		return nil
	}
}

// actuatorSize returns the configured actuator space, falling back to the
// screen size when none is configured.
func actuatorSize(ac config.ActuatorConfig, screen func() (int, int)) target.Size {
	if !ac.Auto() {
		return ac.Size()
	}
	w, h := screen()
	return target.Size{W: w, H: h}
}

// newEnumerator lists the configured ports, or every host port.
func newEnumerator(lc config.LinkConfig) link.Enumerator {
	return link.SerialEnumerator{Names: lc.Ports}
}

// buildApp wires the pipeline from c. The returned store is nil when the
// journal is disabled; the caller closes it.
func buildApp(c *config.Config) (*app.App, *store.Store, error) {
	policy, err := target.NewPolicy(c.Selector.Policy, c.Selector.Label, c.Selector.RequireMarker)
	if err != nil {
		return nil, nil, err
	}

	det, err := detector.New(c.Detector)
	if err != nil {
		return nil, nil, fmt.Errorf("detector %s: %w", c.Detector.Backend, err)
	}

	var st *store.Store
	if c.Journal.Path != "" {
		st, err = store.New(c.Journal.Path)
		if err != nil {
			det.Close()
			return nil, nil, fmt.Errorf("open journal: %w", err)
		}
	}

	windows := capture.DesktopWindows{}
	targetName := c.Capture.Window
	if targetName == "" {
		targetName = "screen"
	}

	a, err := app.New(app.Config{
		Source:          capture.NewDesktopSource(c.Capture),
		Detector:        det,
		Marker:          newMarker(c.Selector),
		Policy:          policy,
		Link:            link.NewSession(c.Link.Session(), newEnumerator(c.Link)),
		Store:           st,
		TargetName:      targetName,
		ActuatorSize:    actuatorSize(c.Actuator, windows.ScreenSize),
		InitialPosition: c.Actuator.Initial,
		Workers:         c.Pipeline.Workers,
		Lookahead:       c.Pipeline.Lookahead,
		MinInterval:     c.Pipeline.MinInterval,
		DetectTimeout:   c.Pipeline.DetectTimeout,
		DrainTimeout:    c.Pipeline.DrainTimeout,
		ReportEvery:     c.Pipeline.ReportEvery,
		MotionThreshold: c.Pipeline.MotionThreshold,
		Disabled:        c.Pipeline.StartDisabled,
	})
	if err != nil {
		det.Close()
		if st != nil {
			st.Close()
		}
		return nil, nil, err
	}
	return a, st, nil
}
