package source

import (
	"regexp"
	"strings"
)

var spdxTag = regexp.MustCompile(`SPDX-License-Identifier:\s*([A-Za-z0-9.+\- ()]+)`)

// licenseMarkers map distinctive license text to SPDX identifiers. Order
// matters: LGPL and AGPL must be tried before GPL.
var licenseMarkers = []struct {
	id  string
	all []string
}{
	{"AGPL-3.0", []string{"GNU AFFERO GENERAL PUBLIC LICENSE", "Version 3"}},
	{"LGPL-3.0", []string{"GNU LESSER GENERAL PUBLIC LICENSE", "Version 3"}},
	{"LGPL-2.1", []string{"GNU LESSER GENERAL PUBLIC LICENSE", "Version 2.1"}},
	{"GPL-3.0", []string{"GNU GENERAL PUBLIC LICENSE", "Version 3"}},
	{"GPL-2.0", []string{"GNU GENERAL PUBLIC LICENSE", "Version 2"}},
	{"MPL-2.0", []string{"Mozilla Public License", "2.0"}},
	{"Apache-2.0", []string{"Apache License", "Version 2.0"}},
	{"MIT", []string{"Permission is hereby granted, free of charge"}},
	{"BSD-3-Clause", []string{"Redistribution and use in source and binary forms", "Neither the name"}},
	{"BSD-2-Clause", []string{"Redistribution and use in source and binary forms"}},
	{"ISC", []string{"Permission to use, copy, modify, and/or distribute this software for any purpose"}},
	{"Unlicense", []string{"This is free and unencumbered software released into the public domain"}},
}

// DetectLicense guesses the SPDX identifier of a license file. It returns ""
// when unsure, which the vetter treats as unknown.
func DetectLicense(text string) string {
	if m := spdxTag.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	for _, lm := range licenseMarkers {
		ok := true
		for _, s := range lm.all {
			if !strings.Contains(text, s) {
				ok = false
				break
			}
		}
		if ok {
			return lm.id
		}
	}
	return ""
}

// isLicenseFile reports whether a top-level file name looks like a license.
func isLicenseFile(name string) bool {
	upper := strings.ToUpper(name)
	return strings.HasPrefix(upper, "LICENSE") || strings.HasPrefix(upper, "LICENCE") || strings.HasPrefix(upper, "COPYING")
}
