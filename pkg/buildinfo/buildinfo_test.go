/*
Copyright 2014 The Camlistore Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package buildinfo

import "testing"

func TestTestingLinked(t *testing.T) {
	if !TestingLinked() {
		t.Error("TestingLinked() = false, want true when running under go test")
	}
}

func TestSummary(t *testing.T) {
	oldVersion, oldGitInfo := Version, GitInfo
	defer func() { Version, GitInfo = oldVersion, oldGitInfo }()

	Version, GitInfo = "", ""
	if got := Summary(); got != "unknown" {
		t.Errorf("Summary() = %q, want %q", got, "unknown")
	}

	Version, GitInfo = "1.0", ""
	if got := Summary(); got != "1.0" {
		t.Errorf("Summary() = %q, want %q", got, "1.0")
	}

	Version, GitInfo = "", "abc123"
	if got := Summary(); got != "abc123" {
		t.Errorf("Summary() = %q, want %q", got, "abc123")
	}

	Version, GitInfo = "1.0", "abc123"
	if got, want := Summary(), "1.0, abc123"; got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}
