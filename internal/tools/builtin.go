package tools

import (
	"context"
	"fmt"
	"strings"

	"aegis/internal/aerr"
)

// RegisterBuiltins installs the training toolset. None of these touch
// external systems: the scan and lookup tools emit structured exercise
// output, and the rule checker is a local parser. Side effects are still
// declared as the real tool would have them so the gate behaves
// realistically in every mode.
func RegisterBuiltins(r *Registry) {
	r.MustRegister(Descriptor{
		Name:        "nmap",
		Description: "Plan a port scan and explain what each probe would reveal.",
		Category:    CategoryRecon,
		SideEffects: []SideEffect{EffectNetwork},
		ArgsSchema: ArgsSchema{
			Required: []string{"target"},
			Properties: map[string]Property{
				"target": {Type: "string", Description: "Host or CIDR to scan"},
				"ports":  {Type: "string", Description: "Port list or range", Default: "1-1024"},
			},
		},
		Execute: runNmapExercise,
	})

	r.MustRegister(Descriptor{
		Name:        "whois",
		Description: "Outline the registration intelligence a whois lookup would return.",
		Category:    CategoryRecon,
		SideEffects: []SideEffect{EffectNetwork},
		ArgsSchema: ArgsSchema{
			Required: []string{"domain"},
			Properties: map[string]Property{
				"domain": {Type: "string", Description: "Domain to look up"},
			},
		},
		Execute: runWhoisExercise,
	})

	r.MustRegister(Descriptor{
		Name:        "snort-rule-check",
		Description: "Validate the structure of a Snort rule and flag common mistakes.",
		Category:    CategoryDefense,
		SideEffects: []SideEffect{EffectRead},
		ArgsSchema: ArgsSchema{
			Required: []string{"rule"},
			Properties: map[string]Property{
				"rule": {Type: "string", Description: "Rule text to validate"},
			},
		},
		Execute: runSnortRuleCheck,
	})
}

func runNmapExercise(_ context.Context, args map[string]any) (string, error) {
	target, _ := args["target"].(string)
	if target == "" {
		return "", aerr.E(aerr.KindValidation, "tools.nmap", "target must be a string")
	}
	ports, _ := args["ports"].(string)
	if ports == "" {
		ports = "1-1024"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Scan plan for %s (ports %s):\n", target, ports)
	b.WriteString("- SYN probe: open ports answer SYN/ACK without completing the handshake\n")
	b.WriteString("- Service detection: banner grab on responsive ports maps versions to CVEs\n")
	b.WriteString("- Expect IDS visibility: connection-rate anomalies flag sweeps above ~10 pps\n")
	return b.String(), nil
}

func runWhoisExercise(_ context.Context, args map[string]any) (string, error) {
	domain, _ := args["domain"].(string)
	if domain == "" {
		return "", aerr.E(aerr.KindValidation, "tools.whois", "domain must be a string")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Registration intelligence checklist for %s:\n", domain)
	b.WriteString("- Registrar and creation date: newly registered domains correlate with phishing\n")
	b.WriteString("- Name servers: shared infrastructure links related campaigns\n")
	b.WriteString("- Privacy proxy use: absence of contact data is itself a signal\n")
	return b.String(), nil
}

// runSnortRuleCheck is a real local validator for rule syntax.
func runSnortRuleCheck(_ context.Context, args map[string]any) (string, error) {
	const op = "tools.snort-rule-check"
	rule, _ := args["rule"].(string)
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return "", aerr.E(aerr.KindValidation, op, "rule must be a non-empty string")
	}

	var problems []string
	header, options, ok := strings.Cut(rule, "(")
	if !ok || !strings.HasSuffix(rule, ")") {
		problems = append(problems, "missing option block: expected 'header ( options )'")
	} else {
		options = strings.TrimSuffix(options, ")")
		if !strings.Contains(options, "msg:") {
			problems = append(problems, "no msg option; alerts will be unlabeled")
		}
		if !strings.Contains(options, "sid:") {
			problems = append(problems, "no sid option; rule cannot be managed or suppressed")
		}
	}

	fields := strings.Fields(header)
	if len(fields) < 7 {
		problems = append(problems, "incomplete header: need action proto src sport direction dst dport")
	} else {
		switch fields[0] {
		case "alert", "log", "pass", "drop", "reject":
		default:
			problems = append(problems, fmt.Sprintf("unknown action %q", fields[0]))
		}
		if fields[4] != "->" && fields[4] != "<>" {
			problems = append(problems, fmt.Sprintf("invalid direction operator %q", fields[4]))
		}
	}

	if len(problems) == 0 {
		return "rule OK", nil
	}
	return "rule has problems:\n- " + strings.Join(problems, "\n- "), nil
}
