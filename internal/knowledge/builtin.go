package knowledge

import "context"

// builtinEntries is the starter catalog loaded at boot. Ingested documents
// extend it at runtime.
var builtinEntries = []Entry{
	{
		ID:         "sql-injection",
		Title:      "SQL Injection",
		Category:   "web",
		Difficulty: "beginner",
		Summary:    "Attacker-controlled input reaches a query string unsanitized, letting the attacker alter the statement. Detect with input fuzzing; prevent with parameterized queries.",
		Techniques: []string{"union-based injection", "boolean blind injection", "time-based blind injection"},
		Tools:      []string{"sqlmap", "burpsuite"},
		CodeExamples: []string{
			"' OR '1'='1' --",
			"SELECT name FROM users WHERE id = ?  -- parameterized, safe",
		},
		Sources: []string{"OWASP Top 10 A03"},
	},
	{
		ID:         "port-scanning",
		Title:      "Port Scanning",
		Category:   "network",
		Difficulty: "beginner",
		Summary:    "Enumerating open TCP/UDP ports on a host to map its attack surface. SYN scans avoid completing handshakes; detection relies on connection-rate anomalies.",
		Techniques: []string{"syn scan", "udp scan", "service version detection"},
		Tools:      []string{"nmap", "masscan"},
		Sources:    []string{"nmap reference guide"},
	},
	{
		ID:         "lateral-movement",
		Title:      "Lateral Movement",
		Category:   "network",
		Difficulty: "intermediate",
		Summary:    "Post-compromise traversal between hosts using harvested credentials or trust relationships. Watch for unusual SMB sessions, pass-the-hash patterns and service creation events.",
		Techniques: []string{"pass the hash", "remote service creation", "wmi execution"},
		Tools:      []string{"bloodhound", "crackmapexec"},
		Sources:    []string{"MITRE ATT&CK TA0008"},
	},
	{
		ID:         "dns-tunneling",
		Title:      "DNS Tunneling",
		Category:   "network",
		Difficulty: "intermediate",
		Summary:    "Exfiltrating data or carrying C2 traffic inside DNS queries and responses. Indicators: high-entropy subdomains, unusual query volume to a single domain.",
		Techniques: []string{"txt record exfiltration", "subdomain encoding"},
		Tools:      []string{"iodine", "dnscat2"},
		Sources:    []string{"MITRE ATT&CK T1071.004"},
	},
	{
		ID:         "buffer-overflow",
		Title:      "Stack Buffer Overflow",
		Category:   "binary",
		Difficulty: "advanced",
		Summary:    "Writing past a stack buffer to overwrite the saved return address. Mitigations include stack canaries, ASLR and non-executable stacks.",
		Techniques: []string{"return address overwrite", "rop chaining", "nop sled"},
		Tools:      []string{"gdb", "pwntools"},
		CodeExamples: []string{
			"python -c \"print('A'*272 + payload)\"",
		},
		Sources: []string{"CWE-121"},
	},
	{
		ID:         "phishing",
		Title:      "Phishing Campaigns",
		Category:   "social",
		Difficulty: "beginner",
		Summary:    "Credential or malware delivery via deceptive messages. Defenses: DMARC enforcement, attachment sandboxing, reporting culture.",
		Techniques: []string{"spearphishing attachment", "credential harvesting pages"},
		Tools:      []string{"gophish"},
		Sources:    []string{"MITRE ATT&CK T1566"},
	},
	{
		ID:         "kerberos-attacks",
		Title:      "Kerberos Ticket Attacks",
		Category:   "identity",
		Difficulty: "advanced",
		Summary:    "Forging or abusing Kerberos tickets: golden tickets forge the TGT with the krbtgt hash, silver tickets forge service tickets. Monitor for TGS anomalies and encryption downgrade.",
		Techniques: []string{"golden ticket", "silver ticket", "kerberoasting"},
		Tools:      []string{"mimikatz", "rubeus"},
		Sources:    []string{"MITRE ATT&CK T1558"},
	},
	{
		ID:         "ids-signatures",
		Title:      "Intrusion Detection Signatures",
		Category:   "defense",
		Difficulty: "intermediate",
		Summary:    "Rule-based detection of known-bad traffic patterns. Signatures balance specificity against evasion; anomaly detection covers the gap.",
		Techniques: []string{"content matching", "flowbits state tracking"},
		Tools:      []string{"snort", "suricata", "zeek"},
		CodeExamples: []string{
			`alert tcp any any -> $HOME_NET 445 (msg:"SMB lateral movement"; sid:1000001;)`,
		},
		Sources: []string{"Snort rule writing guide"},
	},
}

// LoadBuiltins registers the starter entries.
func (c *Catalog) LoadBuiltins(ctx context.Context) error {
	for _, e := range builtinEntries {
		if err := c.Register(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
