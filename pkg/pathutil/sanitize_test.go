// Copyright 2018-2019 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package pathutil

import "testing"

func TestSanitizePath(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"video/annual_report", "video/annual_report", false},
		{"//video///annual_report//", "video/annual_report", false},
		{`video\annual_report`, "video/annual_report", false},
		{"", "", true},
		{"///", "", true},
		{"video/../etc", "", true},
		{"..", "", true},
	}

	for _, tc := range cases {
		got, err := SanitizePath(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("SanitizePath(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("SanitizePath(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SanitizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"greeting.txt", "greeting.txt", false},
		{"../../etc/passwd", "passwd", false},
		{"my file (1).txt", "my_file__1_.txt", false},
		// "+" is a literal plus, not a form-encoded space: it reaches
		// the character filter intact and is replaced there, never
		// decoded to " " first.
		{"a+b.txt", "a_b.txt", false},
		{"a%20b.txt", "a_b.txt", false},
		{"%2e%2e", "..", true},
		{"", "", true},
		{".", "", true},
		{"..", "", true},
	}

	for _, tc := range cases {
		got, err := SanitizeFilename(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("SanitizeFilename(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("SanitizeFilename(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStem(t *testing.T) {
	if got := Stem("annual_report.pdf"); got != "annual_report" {
		t.Errorf("Stem() = %q, want annual_report", got)
	}
	if got := Stem("noext"); got != "noext" {
		t.Errorf("Stem() = %q, want noext", got)
	}
}
