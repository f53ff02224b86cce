// Copyright 2025 The Silica Authors
// This file is part of Silica.
//
// Silica is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Silica is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Silica. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"testing"
	"time"
)

func TestCycleRate(t *testing.T) {
	tests := []struct {
		cycles  uint64
		elapsed time.Duration
		want    string
	}{
		{0, 0, "n/a"},
		{50, time.Second, "50Hz"},
		{1500, time.Second, "1.50kHz"},
		{1000000, time.Second, "1.00MHz"},
		{3000000, 2 * time.Second, "1.50MHz"},
	}
	for _, tt := range tests {
		if got := cycleRate(tt.cycles, tt.elapsed); got != tt.want {
			t.Errorf("cycleRate(%d, %v) = %q; want %q", tt.cycles, tt.elapsed, got, tt.want)
		}
	}
}
