package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seanmoran/hivemind/pkg/models"
)

func TestLoadRoleProfiles(t *testing.T) {
	tmpDir := t.TempDir()

	coderContent := `
role: coder
prompt_preamble: "Follow the repo conventions."
timeout: 30m
max_retries: 4
`
	if err := os.WriteFile(filepath.Join(tmpDir, "coder.yaml"), []byte(coderContent), 0644); err != nil {
		t.Fatalf("failed to write coder.yaml: %v", err)
	}
	testerContent := `
role: tester
pass_threshold: 0.95
`
	if err := os.WriteFile(filepath.Join(tmpDir, "tester.yaml"), []byte(testerContent), 0644); err != nil {
		t.Fatalf("failed to write tester.yaml: %v", err)
	}

	profiles, err := LoadRoleProfiles(tmpDir)
	if err != nil {
		t.Fatalf("LoadRoleProfiles failed: %v", err)
	}

	coder := profiles.Get(models.RoleCoder)
	if coder.PromptPreamble != "Follow the repo conventions." {
		t.Errorf("coder preamble = %q", coder.PromptPreamble)
	}
	if coder.Timeout != 30*time.Minute {
		t.Errorf("coder timeout = %v, want 30m", coder.Timeout)
	}
	if coder.MaxRetries != 4 {
		t.Errorf("coder max_retries = %d, want 4", coder.MaxRetries)
	}

	tester := profiles.Get(models.RoleTester)
	if tester.PassThreshold != 0.95 {
		t.Errorf("tester pass_threshold = %v, want 0.95", tester.PassThreshold)
	}

	// Roles without a file keep their built-in profiles.
	reviewer := profiles.Get(models.RoleReviewer)
	if reviewer == nil || reviewer.Role != "reviewer" {
		t.Errorf("reviewer profile not defaulted: %+v", reviewer)
	}
}

func TestRoleProfilesGetFallsBackToGeneric(t *testing.T) {
	profiles := DefaultRoleProfiles()

	got := profiles.Get(models.AgentRole("unknown"))
	if got == nil || got.Role != "generic" {
		t.Errorf("unknown role profile = %+v, want generic", got)
	}
}

func TestDefaultRoleProfilesCoverAllRoles(t *testing.T) {
	profiles := DefaultRoleProfiles()
	roles := []models.AgentRole{
		models.RoleGeneric, models.RoleResearcher, models.RoleCoder,
		models.RoleTester, models.RoleReviewer, models.RoleAnalyst,
		models.RoleDocumenter,
	}
	for _, role := range roles {
		if profiles[role] == nil {
			t.Errorf("role %s has no default profile", role)
		}
	}
}
