package cognition

// mitre.go - rule tables behind the network-free fallback paths
//
// Technique id to tactic/name/description for degraded enrichment,
// technique id to recommendation for the summarizer fallback. Tables are
// explicit data, not inline conditionals, so they can be extended from
// seed files and unit-tested without any network-calling code.

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// TechniqueEntry is one row of the technique lookup table.
type TechniqueEntry struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Tactic         string `yaml:"tactic"`
	Description    string `yaml:"description"`
	Recommendation string `yaml:"recommendation,omitempty"`
}

type seedFile struct {
	Techniques []TechniqueEntry `yaml:"techniques"`
}

// RuleTables holds the static lookup data for degraded enrichment and
// rule-based recommendations.
type RuleTables struct {
	techniques map[string]TechniqueEntry
}

// builtinTechniques covers the techniques the pipeline most commonly sees.
// Seed files extend or override these rows.
var builtinTechniques = []TechniqueEntry{
	{ID: "T1190", Name: "Exploit Public-Facing Application", Tactic: "initial-access",
		Description:    "Adversaries exploit weaknesses in internet-facing applications to gain access.",
		Recommendation: "Review web application firewall rules for exploitation attempts"},
	{ID: "T1059", Name: "Command and Scripting Interpreter", Tactic: "execution",
		Description:    "Adversaries abuse command and script interpreters to execute payloads.",
		Recommendation: "Monitor command-line activity for suspicious interpreter usage"},
	{ID: "T1566", Name: "Phishing", Tactic: "initial-access",
		Description:    "Adversaries send phishing messages to gain access to victim systems.",
		Recommendation: "Audit recent inbound mail for credential-harvesting lures"},
	{ID: "T1055", Name: "Process Injection", Tactic: "defense-evasion",
		Description:    "Adversaries inject code into processes to evade defenses or elevate privileges.",
		Recommendation: "Inspect hosts for cross-process memory writes and unexpected loaded modules"},
	{ID: "T1003", Name: "OS Credential Dumping", Tactic: "credential-access",
		Description:    "Adversaries dump credentials from the operating system to enable lateral movement.",
		Recommendation: "Check for LSASS access and credential store reads on affected hosts"},
	{ID: "T1021", Name: "Remote Services", Tactic: "lateral-movement",
		Description:    "Adversaries use valid accounts to log into remote services.",
		Recommendation: "Review remote service logons from the affected source for anomalies"},
	{ID: "T1486", Name: "Data Encrypted for Impact", Tactic: "impact",
		Description:    "Adversaries encrypt data on target systems to interrupt availability.",
		Recommendation: "Verify backup integrity and isolate hosts showing mass file modification"},
	{ID: "T1071", Name: "Application Layer Protocol", Tactic: "command-and-control",
		Description:    "Adversaries communicate over application layer protocols to blend with traffic.",
		Recommendation: "Inspect outbound application-layer traffic for beaconing patterns"},
	{ID: "T1078", Name: "Valid Accounts", Tactic: "defense-evasion",
		Description:    "Adversaries obtain and abuse credentials of existing accounts.",
		Recommendation: "Audit authentication logs for logons outside normal hours or geography"},
	{ID: "T1110", Name: "Brute Force", Tactic: "credential-access",
		Description:    "Adversaries attempt to guess credentials through repeated authentication attempts.",
		Recommendation: "Enable account lockout and review failed authentication spikes"},
	{ID: "T1041", Name: "Exfiltration Over C2 Channel", Tactic: "exfiltration",
		Description:    "Adversaries steal data by exfiltrating it over an existing C2 channel.",
		Recommendation: "Compare outbound data volumes on C2-suspect connections against baseline"},
	{ID: "T1105", Name: "Ingress Tool Transfer", Tactic: "command-and-control",
		Description:    "Adversaries transfer tools or files from an external system into a compromised environment.",
		Recommendation: "Hunt for unusual file downloads on hosts linked to this activity"},
}

// NewRuleTables builds tables from the builtins.
func NewRuleTables() *RuleTables {
	t := &RuleTables{techniques: make(map[string]TechniqueEntry, len(builtinTechniques))}
	for _, e := range builtinTechniques {
		t.techniques[e.ID] = e
	}
	return t
}

// NewRuleTablesFromDir builds tables from the builtins plus every *.yaml
// seed file under dir. A missing or unreadable dir falls back to builtins
// only; individual bad files are logged and skipped.
func NewRuleTablesFromDir(dir string) *RuleTables {
	t := NewRuleTables()
	if dir == "" {
		return t
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("[RULES] seed dir %s unavailable, using builtins: %v", dir, err)
		return t
	}
	loaded := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Printf("[RULES] skipping seed %s: %v", name, err)
			continue
		}
		var sf seedFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			log.Printf("[RULES] skipping malformed seed %s: %v", name, err)
			continue
		}
		for _, e := range sf.Techniques {
			if !IsTechniqueID(e.ID) {
				log.Printf("[RULES] skipping invalid technique id %q in %s", e.ID, name)
				continue
			}
			t.techniques[e.ID] = e
			loaded++
		}
	}
	if loaded > 0 {
		log.Printf("[RULES] loaded %d technique entries from %s", loaded, dir)
	}
	return t
}

// Lookup returns the table row for id, if present.
func (t *RuleTables) Lookup(id string) (TechniqueEntry, bool) {
	e, ok := t.techniques[id]
	return e, ok
}

// Tactic returns the tactic for id, or "unknown" if the table has no row.
func (t *RuleTables) Tactic(id string) string {
	if e, ok := t.techniques[id]; ok && e.Tactic != "" {
		return e.Tactic
	}
	return "unknown"
}

// Enrich builds a MitreContext for id without any network call. Unknown
// ids get degraded defaults: name is the id itself, tactic from the table
// or "unknown", and a templated description.
func (t *RuleTables) Enrich(id string) MitreContext {
	if e, ok := t.techniques[id]; ok {
		return MitreContext{
			TechniqueID:   e.ID,
			TechniqueName: e.Name,
			Tactic:        e.Tactic,
			Description:   e.Description,
		}
	}
	return MitreContext{
		TechniqueID:   id,
		TechniqueName: id,
		Tactic:        "unknown",
		Description:   fmt.Sprintf("MITRE ATT&CK technique %s (no local enrichment available)", id),
	}
}

// Recommendations derives the rule-based recommendation set for a threat:
// per-technique recommendations from the table, plus level boilerplate for
// critical and high threats. Always returns at least one entry.
func (t *RuleTables) Recommendations(threat *Threat) []string {
	var recs []string
	seen := make(map[string]bool)
	add := func(r string) {
		if r != "" && !seen[r] {
			seen[r] = true
			recs = append(recs, r)
		}
	}

	ids := append([]string(nil), threat.Mitre...)
	sort.Strings(ids)
	for _, id := range ids {
		if e, ok := t.techniques[id]; ok {
			add(e.Recommendation)
		}
	}

	switch threat.Level {
	case LevelCritical, LevelHigh:
		add("Initiate incident response procedures")
		add(fmt.Sprintf("Consider isolating affected systems (%s)", firstNonEmpty(threat.Target, threat.Source, "unknown scope")))
	}

	if len(recs) == 0 {
		add("Continue monitoring and escalate if activity persists")
	}
	return recs
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
