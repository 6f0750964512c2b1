package anvil

import (
	"os"
	"strings"
)

// buildEnv returns the environment for build commands. When PIC is forced
// (formula flag or ANVIL_FORCE_PIC), -fPIC is appended to CFLAGS/CXXFLAGS
// so shared libraries copied into install prefixes link cleanly.
func buildEnv(prefix string, forcePIC bool) []string {
	env := os.Environ()
	env = append(env, "PREFIX="+prefix)

	if !forcePIC {
		return env
	}

	setFlag := func(key string) {
		for i, kv := range env {
			if strings.HasPrefix(kv, key+"=") {
				if !strings.Contains(kv, "-fPIC") {
					env[i] = kv + " -fPIC"
				}
				return
			}
		}
		env = append(env, key+"=-fPIC")
	}
	setFlag("CFLAGS")
	setFlag("CXXFLAGS")
	return env
}

// picSuggestions scans build output for link-time relocation errors that
// point at missing -fPIC and returns remediation hints for the user.
func picSuggestions(output string) []string {
	if output == "" {
		return nil
	}
	needsPIC := strings.Contains(output, "recompile with -fPIC") ||
		(strings.Contains(output, "relocation") && strings.Contains(output, "R_X86_64"))
	if !needsPIC {
		return nil
	}
	return []string{
		"Detected link-time relocation errors suggesting -fPIC is required for shared libraries.",
		"Fix options to try:",
		" - Set ANVIL_FORCE_PIC=1 to add -fPIC to CFLAGS/CXXFLAGS when building.",
		` - Add "force_pic": true to the project's anvil.json to force PIC for that formula.`,
	}
}
