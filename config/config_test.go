package config

import "testing"

func TestDefaultServerConfigMatchesSpecDefaults(t *testing.T) {
	c := DefaultServerConfig()

	if c.StepRate != 60 {
		t.Errorf("StepRate = %d, want 60", c.StepRate)
	}
	if c.UpdateRate != 6 {
		t.Errorf("UpdateRate = %d, want 6", c.UpdateRate)
	}
	if c.FullSyncRate != 20 {
		t.Errorf("FullSyncRate = %d, want 20", c.FullSyncRate)
	}
	if c.TimeoutInterval.Seconds() != 180 {
		t.Errorf("TimeoutInterval = %v, want 180s", c.TimeoutInterval)
	}
	if !c.UpdateOnObjectCreation {
		t.Error("UpdateOnObjectCreation = false, want true")
	}
	if c.TracesPath != "" {
		t.Errorf("TracesPath = %q, want empty", c.TracesPath)
	}
}

func TestDefaultExtrapolateConfigMatchesSpecDefaults(t *testing.T) {
	c := DefaultExtrapolateConfig()

	if c.SyncsBufferLength != 5 {
		t.Errorf("SyncsBufferLength = %d, want 5", c.SyncsBufferLength)
	}
	if c.MaxReEnactSteps != 60 {
		t.Errorf("MaxReEnactSteps = %d, want 60", c.MaxReEnactSteps)
	}
	if c.RTTEstimate != 2 {
		t.Errorf("RTTEstimate = %d, want 2", c.RTTEstimate)
	}
	if c.Extrapolate != 2 {
		t.Errorf("Extrapolate = %d, want 2", c.Extrapolate)
	}
	if c.LocalObjBending != 0.1 {
		t.Errorf("LocalObjBending = %v, want 0.1", c.LocalObjBending)
	}
	if c.RemoteObjBending != 0.6 {
		t.Errorf("RemoteObjBending = %v, want 0.6", c.RemoteObjBending)
	}
	if c.BendingIncrements != 10 {
		t.Errorf("BendingIncrements = %d, want 10", c.BendingIncrements)
	}
}

func TestDefaultInterpolateConfigMatchesSpecDefaults(t *testing.T) {
	c := DefaultInterpolateConfig()

	if c.ClientStepHold != 6 {
		t.Errorf("ClientStepHold = %d, want 6", c.ClientStepHold)
	}
	if c.LocalObjBending != 1.0 {
		t.Errorf("LocalObjBending = %v, want 1.0", c.LocalObjBending)
	}
	if c.RemoteObjBending != 1.0 {
		t.Errorf("RemoteObjBending = %v, want 1.0", c.RemoteObjBending)
	}
	if c.BendingIncrements != 6 {
		t.Errorf("BendingIncrements = %d, want 6", c.BendingIncrements)
	}
}

func TestDefaultClientConfigMatchesSpecDefaults(t *testing.T) {
	c := DefaultClientConfig()

	if c.StepRate != 60 {
		t.Errorf("StepRate = %d, want 60", c.StepRate)
	}
	if c.ClientReset != 40 {
		t.Errorf("ClientReset = %d, want 40", c.ClientReset)
	}
	if c.RTTEstimateSteps != 2 {
		t.Errorf("RTTEstimateSteps = %d, want 2", c.RTTEstimateSteps)
	}
}
