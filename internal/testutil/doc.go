// Package testutil provides test fixtures, a controllable clock, and small
// assertion and HTTP helpers shared by the package tests.
package testutil
