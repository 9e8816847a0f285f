// Package query implements read and delete operations over video records:
// public and per-owner listings, single-record visibility rules, and full
// deletion including blob cleanup.
package query
