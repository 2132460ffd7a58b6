// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package cache

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

// fakeDevice is a minimal Device for tests.
type fakeDevice struct {
	path string
}

func (d fakeDevice) Path() string { return d.path }

func dev(path string) Device { return fakeDevice{path: path} }

// fakeLabeller is a minimal Labeller for tests.
type fakeLabeller struct {
	name string
}

func (l fakeLabeller) Name() string { return l.name }

var lvm2 = fakeLabeller{name: "lvm2"}

func newPVID(t *testing.T) PVID {
	t.Helper()
	return PVID(uuid.New())
}

func newVGID(t *testing.T) VGID {
	t.Helper()
	return VGID(uuid.New())
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	return New(context.Background())
}
