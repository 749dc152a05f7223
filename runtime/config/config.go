// Package config loads the declarative configuration that drives the planner
// and memory service: the intent vocabulary, prompt-to-model mappings, and
// memory limits. Nothing here is compiled in — an operator edits the YAML
// file to add an intent or retune a budget without a rebuild.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the root configuration document (§6.4).
	Config struct {
		// Intents enumerates the recognized intent vocabulary. The planner
		// never hardcodes an intent name; it only consults this list.
		Intents []IntentConfig `yaml:"intents"`

		// LLM maps logical prompt roles to concrete model identifiers.
		LLM LLMConfig `yaml:"llm"`

		// Memory tunes the tiered memory service's limits (§4.4, §8.4).
		Memory MemoryConfig `yaml:"memory"`

		// Supervisor tunes top-level execution policy.
		Supervisor SupervisorConfig `yaml:"supervisor"`
	}

	// IntentConfig declares one entry of the intent vocabulary (§9 "Planner
	// hardcoding → configuration").
	IntentConfig struct {
		// Name is the tagged-variant IntentType value (e.g. "legal_consult").
		Name string `yaml:"name"`
		// DisplayName is a human-readable label for logging/UI.
		DisplayName string `yaml:"display_name"`
		// Keywords seed keyword-based classification hints.
		Keywords []string `yaml:"keywords"`
		// ConfidenceThreshold overrides the global floor for this intent. Zero
		// means "use the global default".
		ConfidenceThreshold float64 `yaml:"confidence_threshold"`
		// SuggestedAgents names the teams create_plan maps this intent to, in
		// the order they should be considered for the dependency policy.
		SuggestedAgents []string `yaml:"suggested_agents"`
		// Priority breaks ties when multiple intents could apply.
		Priority int `yaml:"priority"`
		// ShortCircuit marks this intent as a short-circuit: execution_steps
		// is always empty and the supervisor skips straight to respond.
		ShortCircuit bool `yaml:"short_circuit"`
	}

	// LLMConfig maps prompt roles (§6.4 llm.models.*) to model identifiers
	// understood by modelgw.
	LLMConfig struct {
		Models ModelMap `yaml:"models"`
		// ConfidenceFloor is the global re-classify-as-unclear threshold
		// (§4.3 analyze_intent, default 0.5).
		ConfidenceFloor float64 `yaml:"confidence_floor"`
	}

	// ModelMap names the model backing each logical prompt role.
	ModelMap struct {
		IntentAnalysis       string `yaml:"intent_analysis"`
		KeywordExtraction    string `yaml:"keyword_extraction"`
		ToolSelectionSearch  string `yaml:"tool_selection_search"`
		ToolSelectionAnalysis string `yaml:"tool_selection_analysis"`
		InsightGeneration    string `yaml:"insight_generation"`
		ResponseSynthesis    string `yaml:"response_synthesis"`
		ConversationSummary  string `yaml:"conversation_summary"`
	}

	// MemoryConfig tunes the tiered memory service (§4.4, §6.4).
	MemoryConfig struct {
		ShorttermLimit  int `yaml:"shortterm_limit"`
		MidtermLimit    int `yaml:"midterm_limit"`
		LongtermLimit   int `yaml:"longterm_limit"`
		TokenLimit      int `yaml:"token_limit"`
		MessageLimit    int `yaml:"message_limit"`
		SummaryMaxLength int `yaml:"summary_max_length"`
	}

	// SupervisorConfig tunes top-level run policy.
	SupervisorConfig struct {
		EnableCheckpointing bool `yaml:"enable_checkpointing"`
		MaxRecursion        int  `yaml:"max_recursion"`
		MaxRetries          int  `yaml:"max_retries"`
		// MaxRevisions bounds the document team's HITL modify loop (§4.2,
		// default 3).
		MaxRevisions int `yaml:"max_revisions"`
		// DataReuseWindow bounds how many recent turns Option-A considers
		// for a fingerprint match (§4.5, default 5).
		DataReuseWindow int `yaml:"data_reuse_window"`
	}
)

// Load reads and parses the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LLM.ConfidenceFloor == 0 {
		c.LLM.ConfidenceFloor = 0.5
	}
	if c.Supervisor.MaxRevisions == 0 {
		c.Supervisor.MaxRevisions = 3
	}
	if c.Supervisor.DataReuseWindow == 0 {
		c.Supervisor.DataReuseWindow = 5
	}
	if c.Memory.MessageLimit == 0 {
		c.Memory.MessageLimit = 20
	}
}

// Validate checks structural invariants that would otherwise surface as
// confusing planner failures much later.
func (c *Config) Validate() error {
	if len(c.Intents) == 0 {
		return fmt.Errorf("at least one intent must be configured")
	}
	seen := make(map[string]struct{}, len(c.Intents))
	for _, intent := range c.Intents {
		if intent.Name == "" {
			return fmt.Errorf("intent entry missing name")
		}
		if _, dup := seen[intent.Name]; dup {
			return fmt.Errorf("duplicate intent %q", intent.Name)
		}
		seen[intent.Name] = struct{}{}
	}
	if c.Memory.TokenLimit <= 0 {
		return fmt.Errorf("memory.token_limit must be positive")
	}
	return nil
}

// IntentByName looks up the configured vocabulary entry. The ok return is
// false when the planner encounters an intent not present in configuration —
// callers should re-classify as "unclear" rather than invent a plan.
func (c *Config) IntentByName(name string) (IntentConfig, bool) {
	for _, intent := range c.Intents {
		if intent.Name == name {
			return intent, true
		}
	}
	return IntentConfig{}, false
}

// ConfidenceThresholdFor resolves the effective confidence threshold for an
// intent, falling back to the global floor when the intent does not override it.
func (c *Config) ConfidenceThresholdFor(name string) float64 {
	if intent, ok := c.IntentByName(name); ok && intent.ConfidenceThreshold > 0 {
		return intent.ConfidenceThreshold
	}
	return c.LLM.ConfidenceFloor
}
