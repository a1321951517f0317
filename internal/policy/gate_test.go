package policy

import "testing"

func TestToolConfigDecide_DenyWinsOverAllow(t *testing.T) {
	cfg := ToolConfig{
		Profile: ProfileFull,
		Allow:   []string{"exec"},
		Deny:    []string{"exec"},
	}
	if cfg.Decide("exec", GroupExec) {
		t.Fatal("expected deny to win over allow")
	}
}

func TestToolConfigDecide_AllowBeatsDeniedGroup(t *testing.T) {
	cfg := ToolConfig{
		Profile:      ProfileMinimal,
		Allow:        []string{"read_file"},
		DeniedGroups: []Group{GroupFilesystem},
	}
	if !cfg.Decide("read_file", GroupFilesystem) {
		t.Fatal("expected explicit allow to beat denied group")
	}
}

func TestToolConfigDecide_ProfileImplicitSet(t *testing.T) {
	cases := []struct {
		profile Profile
		group   Group
		want    bool
	}{
		{ProfileMinimal, GroupWeb, true},
		{ProfileMinimal, GroupExec, false},
		{ProfileStandard, GroupExec, true},
		{ProfileStandard, GroupMessaging, false},
		{ProfileMessaging, GroupMessaging, true},
		{ProfileFull, GroupFinance, true},
		{ProfileNone, GroupWeb, false},
	}
	for _, c := range cases {
		cfg := ToolConfig{Profile: c.profile}
		if got := cfg.Decide("t", c.group); got != c.want {
			t.Errorf("profile=%s group=%s: got %v want %v", c.profile, c.group, got, c.want)
		}
	}
}

func TestToolConfigDecide_CustomUsesAllowedGroups(t *testing.T) {
	cfg := ToolConfig{
		Profile:       ProfileCustom,
		AllowedGroups: []Group{GroupMemory},
	}
	if !cfg.Decide("memory_search", GroupMemory) {
		t.Fatal("expected custom profile to allow group in AllowedGroups")
	}
	if cfg.Decide("exec", GroupExec) {
		t.Fatal("expected custom profile to deny group not in AllowedGroups")
	}
}

func TestFilterCandidates_SafeModeRemovesNonSafeTools(t *testing.T) {
	cfg := SafeModeOverlay(ToolConfig{Profile: ProfileFull}, nil)
	candidates := []ToolDescriptor{
		{Name: "memory_search", Group: GroupMemory, Safety: SafetySafeMode},
		{Name: "exec", Group: GroupExec, Safety: SafetyStandard},
	}
	got := FilterCandidates(cfg, true, candidates)
	if len(got) != 1 || got[0].Name != "memory_search" {
		t.Fatalf("expected only the safe-mode tool to survive, got %+v", got)
	}
}

func TestSafeModeOverlay_RoleGrantsPunchThrough(t *testing.T) {
	cfg := SafeModeOverlay(ToolConfig{Profile: ProfileFull}, []string{"exec"})
	candidates := []ToolDescriptor{
		{Name: "exec", Group: GroupExec, Safety: SafetyStandard},
	}
	// Role grants bypass the allow-list step but safety filtering still applies.
	got := FilterCandidates(cfg, true, candidates)
	if len(got) != 0 {
		t.Fatalf("expected role grant to still be blocked by safe-mode safety filter, got %+v", got)
	}
}
