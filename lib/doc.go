// Package lib holds the types shared by every part of a test run: the
// consolidated Options, the group/check tree, the per-VU State and the
// TestRun that ties them to a metrics registry.
package lib
