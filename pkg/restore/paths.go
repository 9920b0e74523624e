// Copyright 2011 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package restore

import "path/filepath"

// DirResolver returns a PathResolver for restoring a directory-tree
// backup under destRoot, joining each manifest-relative path onto it.
func DirResolver(destRoot string) PathResolver {
	return func(relativePath string) string {
		return filepath.Join(destRoot, relativePath)
	}
}

// SingleFileResolver returns a PathResolver for restoring a single-file
// or block-device backup directly onto destPath: every manifest path
// (there is only ever one) resolves to destPath regardless of what it
// was recorded as at backup time. Used when destPath itself is the file
// or device to (re)create, as opposed to a directory to restore it
// inside of — see resolveDestination in driver.go for that dispatch.
func SingleFileResolver(destPath string) PathResolver {
	return func(string) string {
		return destPath
	}
}
