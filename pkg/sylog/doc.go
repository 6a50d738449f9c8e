// Package sylog implements a small leveled logger. Within uchroot only
// cmd/uchroot uses it, to raise the level when -d is given.
package sylog
