// Copyright 2014 The Camlistore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package fsutil turns an os.FileInfo for a file or directory on a
// POSIX filesystem into the fields a manifest.Inode record needs,
// tolerating a uid/gid that no longer resolves to a name the way the
// original backup tool's none_if_keyerror helper did.
package fsutil

import (
	"os/user"
	"strconv"
	"sync"
	"syscall"
)

// Stat describes everything backup needs from a path's os.FileInfo.
type Stat struct {
	MtimeNS, AtimeNS, CtimeNS int64
	UID, GID                  int
	Mode                      uint32
	Owner, Group              string
}

// userCache and groupCache avoid a user/group database round trip for every file in
// a tree that is, in practice, almost always owned by the same handful
// of accounts.
var (
	userCacheMu  sync.Mutex
	userCache    = map[int]string{}
	groupCacheMu sync.Mutex
	groupCache   = map[int]string{}
)

// OwnerName resolves uid to a username, returning "" (never an error) if
// the uid has no corresponding account, matching none_if_keyerror.
func OwnerName(uid int) string {
	userCacheMu.Lock()
	defer userCacheMu.Unlock()
	if name, ok := userCache[uid]; ok {
		return name
	}
	name := ""
	if u, err := user.LookupId(strconv.Itoa(uid)); err == nil {
		name = u.Username
	}
	userCache[uid] = name
	return name
}

// GroupName resolves gid to a group name, returning "" if the gid has no
// corresponding group.
func GroupName(gid int) string {
	groupCacheMu.Lock()
	defer groupCacheMu.Unlock()
	if name, ok := groupCache[gid]; ok {
		return name
	}
	name := ""
	if g, err := user.LookupGroupId(strconv.Itoa(gid)); err == nil {
		name = g.Name
	}
	groupCache[gid] = name
	return name
}

// FromSysStat extracts a Stat from the *syscall.Stat_t backing an
// os.FileInfo, resolving the owner and group names.
func FromSysStat(st *syscall.Stat_t) Stat {
	uid, gid := int(st.Uid), int(st.Gid)
	return Stat{
		MtimeNS: st.Mtim.Nano(),
		AtimeNS: st.Atim.Nano(),
		CtimeNS: st.Ctim.Nano(),
		UID:     uid,
		GID:     gid,
		Mode:    uint32(st.Mode),
		Owner:   OwnerName(uid),
		Group:   GroupName(gid),
	}
}
