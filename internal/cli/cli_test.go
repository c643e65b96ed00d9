package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openquant/flowscript/internal/app"
)

func TestParse(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name           string
		args           []string
		expectExit     bool
		expectErrMsg   string
		expectedConfig *app.Config
		checkOutput    func(t *testing.T, output string)
	}{
		{
			name: "happy path with all flags",
			args: []string{
				"-script", "/test/strategy.fs",
				"--data=/test/bars",
				"--log-level=debug",
				"--log-format=text",
				"--workers=4",
				"--fail-fast",
			},
			expectedConfig: &app.Config{
				ScriptPath: "/test/strategy.fs",
				DataDir:    "/test/bars",
				LogLevel:   "debug",
				LogFormat:  "text",
				Workers:    4,
				FailFast:   true,
			},
		},
		{
			name: "shorthand flag and defaults",
			args: []string{"-s", "/short/strategy.fs"},
			expectedConfig: &app.Config{
				ScriptPath: "/short/strategy.fs",
				DataDir:    "data",
				LogLevel:   "info",
				LogFormat:  "json",
			},
		},
		{
			name: "positional argument for path",
			args: []string{"/positional/strategy.fs"},
			expectedConfig: &app.Config{
				ScriptPath: "/positional/strategy.fs",
				DataDir:    "data",
				LogLevel:   "info",
				LogFormat:  "json",
			},
		},
		{
			name:       "no script path prints usage and exits",
			args:       []string{},
			expectExit: true,
			checkOutput: func(t *testing.T, output string) {
				assert.Contains(t, output, "Usage:")
			},
		},
		{
			name:       "help flag exits cleanly",
			args:       []string{"-h"},
			expectExit: true,
			checkOutput: func(t *testing.T, output string) {
				assert.Contains(t, output, "Usage:")
			},
		},
		{
			name:         "unknown flag",
			args:         []string{"--no-such-flag"},
			expectErrMsg: "flag provided but not defined",
		},
		{
			name:         "invalid log format",
			args:         []string{"-s", "x.fs", "--log-format=xml"},
			expectErrMsg: "invalid log-format",
		},
		{
			name:         "invalid log level",
			args:         []string{"-s", "x.fs", "--log-level=loud"},
			expectErrMsg: "invalid log-level",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := &bytes.Buffer{}
			config, shouldExit, err := Parse(tc.args, out)

			if tc.expectErrMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectErrMsg)
				var exitErr *ExitError
				require.ErrorAs(t, err, &exitErr)
				assert.Equal(t, 2, exitErr.Code)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tc.expectExit, shouldExit)
			if tc.checkOutput != nil {
				tc.checkOutput(t, out.String())
			}
			if tc.expectedConfig != nil {
				assert.Equal(t, tc.expectedConfig, config)
			}
		})
	}
}
