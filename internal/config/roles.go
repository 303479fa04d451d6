package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/seanmoran/hivemind/pkg/models"
)

// RoleProfile holds tuning for one worker specialization loaded from YAML.
type RoleProfile struct {
	// Role is the specialization name (researcher, coder, tester, ...).
	Role string `mapstructure:"role"`
	// PromptPreamble is prepended to every task prompt for this role.
	PromptPreamble string `mapstructure:"prompt_preamble"`
	// Timeout overrides the session agent timeout when positive.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries overrides the session retry budget when positive.
	MaxRetries int `mapstructure:"max_retries"`
	// PassThreshold overrides the judge pass threshold when positive.
	PassThreshold float64 `mapstructure:"pass_threshold"`
}

// RoleProfiles maps specializations to their profiles.
type RoleProfiles map[models.AgentRole]*RoleProfile

// Get returns the profile for the given role, falling back to generic.
func (rp RoleProfiles) Get(role models.AgentRole) *RoleProfile {
	if p, ok := rp[role]; ok {
		return p
	}
	return rp[models.RoleGeneric]
}

// LoadRoleProfiles loads role profiles from the profiles/ directory.
// It looks for <role>.yaml per known role; missing files fall back to
// the built-in defaults. If profilesDir is empty, it defaults to
// "profiles" relative to the current directory.
func LoadRoleProfiles(profilesDir string) (RoleProfiles, error) {
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	profiles := DefaultRoleProfiles()
	roles := []models.AgentRole{
		models.RoleGeneric,
		models.RoleResearcher,
		models.RoleCoder,
		models.RoleTester,
		models.RoleReviewer,
		models.RoleAnalyst,
		models.RoleDocumenter,
	}
	for _, role := range roles {
		path := filepath.Join(profilesDir, string(role)+".yaml")
		profile, err := loadRoleProfile(path)
		if err != nil {
			if isNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("load %s profile: %w", role, err)
		}
		profiles[role] = profile
	}
	return profiles, nil
}

// loadRoleProfile loads a single role profile from a YAML file.
func loadRoleProfile(path string) (*RoleProfile, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	profile := &RoleProfile{}
	if err := v.Unmarshal(profile); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", path, err)
	}
	return profile, nil
}

func isNotExist(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

// DefaultRoleProfiles returns built-in profiles for every role.
func DefaultRoleProfiles() RoleProfiles {
	return RoleProfiles{
		models.RoleGeneric: {
			Role: "generic",
		},
		models.RoleResearcher: {
			Role:           "researcher",
			PromptPreamble: "Investigate before answering. Cite the files and sources you used.",
		},
		models.RoleCoder: {
			Role:           "coder",
			PromptPreamble: "Make the smallest change that satisfies the task. Keep existing style.",
		},
		models.RoleTester: {
			Role:           "tester",
			PromptPreamble: "Exercise edge cases, not just the happy path.",
			PassThreshold:  0.85,
		},
		models.RoleReviewer: {
			Role:           "reviewer",
			PromptPreamble: "Judge strictly against the stated criteria. Do not fix, only assess.",
		},
		models.RoleAnalyst: {
			Role:           "analyst",
			PromptPreamble: "Break work into independent pieces with explicit dependencies.",
		},
		models.RoleDocumenter: {
			Role:           "documenter",
			PromptPreamble: "Write for a reader who has never seen this codebase.",
		},
	}
}
