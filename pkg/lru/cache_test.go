/*
Copyright 2011 Google Inc.

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

package lru

import (
	"runtime"
	"testing"
)

func TestLRU(t *testing.T) {
	c := New[string](2)

	expectMiss := func(k string) {
		v, ok := c.Get(k)
		if ok {
			t.Fatalf("expected cache miss on key %q but hit value %v", k, v)
		}
	}

	expectHit := func(k string, ev string) {
		v, ok := c.Get(k)
		if !ok {
			t.Fatalf("expected cache(%q)=%v; but missed", k, ev)
		}
		if v != ev {
			t.Fatalf("expected cache(%q)=%v; but got %v", k, ev, v)
		}
	}

	expectMiss("1")
	c.Add("1", "one")
	expectHit("1", "one")

	c.Add("2", "two")
	expectHit("1", "one")
	expectHit("2", "two")

	c.Add("3", "three")
	expectHit("3", "three")
	expectHit("2", "two")
	expectMiss("1")
}

func TestRemoveOldest(t *testing.T) {
	c := New[string](2)
	c.Add("1", "one")
	c.Add("2", "two")
	if k, v, ok := c.RemoveOldest(); !ok || k != "1" || v != "one" {
		t.Fatalf("oldest = %q, %q, %v; want 1, one, true", k, v, ok)
	}
	if k, v, ok := c.RemoveOldest(); !ok || k != "2" || v != "two" {
		t.Fatalf("oldest = %q, %q, %v; want 2, two, true", k, v, ok)
	}
	if _, _, ok := c.RemoveOldest(); ok {
		t.Fatalf("oldest on empty cache: want ok=false")
	}
}

func TestEvictionPastCapacity(t *testing.T) {
	c := New[int](2)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3) // evicts "a"
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected a evicted")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Fatalf("b = %v, %v; want 2, true", v, ok)
	}
}

func TestObserverNotifiedOnEviction(t *testing.T) {
	c := New[int](1)
	var removed []string
	obs := &RemovalObserver{OnRemoved: func(key string) { removed = append(removed, key) }}
	c.Observe(obs)

	c.Add("a", 1)
	c.Add("b", 2) // evicts "a"
	c.Remove("b")

	if len(removed) != 2 || removed[0] != "a" || removed[1] != "b" {
		t.Fatalf("removed = %v; want [a b]", removed)
	}
	runtime.KeepAlive(obs)
}

func TestObserverSkippedAfterGC(t *testing.T) {
	c := New[int](1)
	called := false
	func() {
		obs := &RemovalObserver{OnRemoved: func(key string) { called = true }}
		c.Observe(obs)
	}()
	runtime.GC()
	runtime.GC()
	c.Add("a", 1)
	c.Add("b", 2)
	if called {
		t.Fatalf("collected observer should not have been notified")
	}
}

func TestGetMutPromotes(t *testing.T) {
	c := New[int](2)
	c.Add("a", 1)
	c.Add("b", 2)
	ok := c.GetMut("a", func(v *int) { *v += 10 })
	if !ok {
		t.Fatalf("GetMut(a) missed")
	}
	c.Add("c", 3) // should evict "b", not "a", since "a" was just promoted
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 11 {
		t.Fatalf("a = %v, %v; want 11, true", v, ok)
	}
}
