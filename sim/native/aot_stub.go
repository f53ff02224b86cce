// Copyright 2025 The Silica Authors
// This file is part of Silica.
//
// Silica is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Silica is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Silica. If not, see <http://www.gnu.org/licenses/>.

//go:build !linux && !darwin

package native

import (
	"github.com/silica-hdl/go-silica/bridge"
	"github.com/silica-hdl/go-silica/sim"
)

func newAOT(s *sim.Simulator, cacheDir string) (sim.Backend, error) {
	return nil, ErrUnsupported
}

// Precompile needs the plugin build path, which this platform lacks.
func Precompile(s *sim.Simulator, cacheDir string) (string, error) {
	return "", ErrUnsupported
}

// FuseRun needs the plugin build path, which this platform lacks.
func FuseRun(s *sim.Simulator, rams []*bridge.RAM, roms []*bridge.ROM) (func(n uint64), error) {
	return nil, ErrUnsupported
}
