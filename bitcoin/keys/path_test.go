// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package keys_test

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/coinjoin/bitcoin/keys"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  keys.Path
		canonical string
	}{
		{"master", "m", keys.Path{}, "m"},
		{"empty", "", keys.Path{}, "m"},
		{"bip84", "m/84'/1'/0'/0/0", keys.Path{keys.Hardened(84), keys.Hardened(1), keys.Hardened(0), 0, 0}, "m/84'/1'/0'/0/0"},
		{"h notation", "m/84h/0h/0h", keys.Path{keys.Hardened(84), keys.Hardened(0), keys.Hardened(0)}, "m/84'/0'/0'"},
		{"relative", "/0/5", keys.Path{0, 5}, "m/0/5"},
		{"no prefix", "1/2", keys.Path{1, 2}, "m/1/2"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path, err := keys.ParsePath(test.input)
			require.NoError(t, err)
			require.Equal(t, test.expected, path)
			require.Equal(t, test.canonical, path.String())
		})
	}
}

func TestParsePathErrors(t *testing.T) {
	for _, input := range []string{"m/x", "m/84''", "m//1", "m/2147483648", "m/-1"} {
		_, err := keys.ParsePath(input)
		require.ErrorIs(t, err, keys.ErrMalformedPath, input)
	}
}

func TestPathHelpers(t *testing.T) {
	path := keys.BIP84Path(&chaincfg.RegressionNetParams, 0, keys.ChangeInternal, 7)
	require.Equal(t, "m/84'/1'/0'/1/7", path.String())
	require.Equal(t, "/84'/1'/0'/1/7", path.Relative())
	require.True(t, path.IsHardened())
	require.Equal(t, 2, path.LastHardened())

	unhardened := keys.Path{0, 1}
	require.False(t, unhardened.IsHardened())
	require.Equal(t, -1, unhardened.LastHardened())

	child := unhardened.Child(3)
	require.Equal(t, keys.Path{0, 1, 3}, child)
	require.Equal(t, keys.Path{0, 1}, unhardened)
}
