// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/coinjoin/internal/logger"
)

func TestInit(t *testing.T) {
	defer logger.Init(log.InfoLevel, false)

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger.InitWithOutput(&buf, log.DebugLevel, true)

		log.WithField("txid", "abc").Debug("coinjoin")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		require.Equal(t, "coinjoin", entry["msg"])
		require.Equal(t, "abc", entry["txid"])
		require.Equal(t, "debug", entry["level"])
	})

	t.Run("level", func(t *testing.T) {
		var buf bytes.Buffer
		logger.InitWithOutput(&buf, log.WarnLevel, false)

		log.Info("hidden")
		require.Zero(t, buf.Len())

		log.Warn("shown")
		require.Contains(t, buf.String(), "shown")
	})
}
