package browser

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/models"
)

func TestDecoder_SkipsBlankLinesAndReportsMalformed(t *testing.T) {
	input := strings.Join([]string{
		`{"id":"c1","kind":"navigate","params":{"url":"https://a.example"}}`,
		``,
		`{"id":"c2"}`,
		`not json`,
	}, "\n")
	dec := NewDecoder(strings.NewReader(input))

	cmd, err := dec.DecodeCommand()
	require.NoError(t, err)
	assert.Equal(t, models.CommandNavigate, cmd.Kind)

	var params models.NavigateParams
	require.NoError(t, DecodeParams(cmd, &params))
	assert.Equal(t, "https://a.example", params.URL)

	_, err = dec.DecodeCommand()
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "c2", de.ID)

	_, err = dec.DecodeCommand()
	require.True(t, errors.As(err, &de))
	assert.Empty(t, de.ID)

	_, err = dec.DecodeCommand()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeParams_Validates(t *testing.T) {
	cmd, err := models.NewCommand("c1", models.CommandFillForm, models.FillFormParams{})
	require.NoError(t, err)

	var params models.FillFormParams
	assert.Error(t, DecodeParams(cmd, &params))
}

func TestServeStdio(t *testing.T) {
	b := &fakeBrowser{site: newFakeSite(map[string]string{"https://dir.example/": signupForm})}
	worker := NewWorker(WorkerOptions{Launcher: fakeLauncher(b)}, arbor.NewLogger())

	var in bytes.Buffer
	enc := NewEncoder(&in)
	nav, _ := models.NewCommand("c1", models.CommandNavigate, models.NavigateParams{URL: "https://dir.example/"})
	require.NoError(t, enc.Encode(nav))
	in.WriteString(`{"id":"c2","kind":""}` + "\n")
	captcha, _ := models.NewCommand("c3", models.CommandDetectCaptcha, nil)
	require.NoError(t, enc.Encode(captcha))

	var out bytes.Buffer
	require.NoError(t, ServeStdio(context.Background(), worker, &in, &out, arbor.NewLogger()))

	dec := NewDecoder(&out)
	byID := map[string]*models.Result{}
	for {
		res, err := dec.DecodeResult()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		byID[res.ID] = res
	}

	require.Len(t, byID, 3)
	assert.True(t, byID["c1"].OK())
	assert.Equal(t, models.ErrorInvalidCommand, byID["c2"].ErrorKind)
	assert.True(t, byID["c3"].OK())
	assert.True(t, b.closed, "EOF shuts the worker down")
}
