// Package history persists finished practice attempts in SQLite and
// reports aggregate progress, including the best score reached so far.
package history
