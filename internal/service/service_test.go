package service_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/helvox/internal/audio"
	"github.com/audiolibrelab/helvox/internal/audio/audiotest"
	"github.com/audiolibrelab/helvox/internal/config"
	"github.com/audiolibrelab/helvox/internal/dataset"
	"github.com/audiolibrelab/helvox/internal/service"
	"github.com/audiolibrelab/helvox/internal/session"
)

const (
	testRate  = 16000
	frameSize = 480 // 30 ms at 16 kHz
)

const inputJSON = `[
  {"id": "A", "de": "eins", "ch_ag": "eis"},
  {"id": "B", "de": "zwei", "ch_ag": "zwöi"},
  {"id": "C", "de": "drei", "ch_ag": "drüü"}
]`

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	return testConfigWithInput(t, inputJSON)
}

func testConfigWithInput(t *testing.T, data string) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.json")
	require.NoError(t, os.WriteFile(input, []byte(data), 0644))

	cfg := config.Default()
	cfg.Settings.OutputFolder = filepath.Join(dir, "out")
	cfg.Settings.InputFile = input
	cfg.Settings.SelectedDevice = "USB Mic"
	cfg.Settings.SpeakerID = "speaker1"
	cfg.Settings.SpeakerDialect = "AG"
	cfg.Audio.SampleRate = testRate
	cfg.Audio.VAD = "energy"
	return cfg, filepath.Join(dir, "settings.ini")
}

func newService(t *testing.T) (service.Service, *audiotest.FakeHost, *config.Config) {
	t.Helper()
	return newServiceWithInput(t, inputJSON)
}

func newServiceWithInput(t *testing.T, data string) (service.Service, *audiotest.FakeHost, *config.Config) {
	t.Helper()
	cfg, configFile := testConfigWithInput(t, data)
	host := audiotest.NewFakeHost(
		audiotest.Mic(0, "USB Mic"),
		audiotest.Mic(1, "Headset"),
		audiotest.Speaker(2, "Speakers"),
	)
	svc := service.New(cfg, configFile, host)
	require.NoError(t, svc.LoadSession())
	t.Cleanup(func() { svc.Close() })
	return svc, host, cfg
}

func constant(n int, v float32) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

// recordTake delivers 20 silent, 5 loud and 20 silent frames.
func recordTake(t *testing.T, svc service.Service, host *audiotest.FakeHost) *service.Take {
	t.Helper()
	require.NoError(t, svc.StartRecording())
	for i := 0; i < 20; i++ {
		host.Deliver(constant(frameSize, 0))
	}
	for i := 0; i < 5; i++ {
		host.Deliver(constant(frameSize, 0.5))
	}
	for i := 0; i < 20; i++ {
		host.Deliver(constant(frameSize, 0))
	}
	take, err := svc.StopRecording()
	require.NoError(t, err)
	return take
}

func TestDevices(t *testing.T) {
	svc, _, _ := newService(t)

	assert.Equal(t, []string{"Headset", "USB Mic"}, svc.RefreshDevices())
	devices := svc.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "Headset", devices[0].Name)

	device, err := svc.SelectedDevice()
	require.NoError(t, err)
	assert.Equal(t, 0, device.Index)
}

func TestMonitoringUpdatesLevel(t *testing.T) {
	svc, host, _ := newService(t)

	assert.Equal(t, audio.SilenceFloorDB, svc.Level())
	require.NoError(t, svc.StartMonitoring())
	assert.Equal(t, service.StatusMonitoring, svc.GetRecordingStatus())

	host.Deliver(constant(frameSize, 0.5))
	assert.Greater(t, svc.Level(), -10.0)

	svc.StopMonitoring()
	assert.Equal(t, audio.SilenceFloorDB, svc.Level())
	assert.Equal(t, service.StatusStandby, svc.GetRecordingStatus())
}

func TestStartMonitoringUnknownDevice(t *testing.T) {
	svc, _, cfg := newService(t)
	cfg.Settings.SelectedDevice = "Missing"

	err := svc.StartMonitoring()
	assert.ErrorIs(t, err, audio.ErrNoDevice)
	assert.NotEmpty(t, svc.GetLastError())
}

func TestRecordTrimAndSave(t *testing.T) {
	svc, host, cfg := newService(t)
	require.NoError(t, svc.StartMonitoring())

	entry, err := svc.Next()
	require.NoError(t, err)
	assert.Equal(t, "A", entry.ID)
	assert.Equal(t, "eis", entry.TargetText)

	require.NoError(t, svc.StartRecording())
	assert.Equal(t, service.StatusRecording, svc.GetRecordingStatus())
	assert.Len(t, host.Running(), 1, "monitor must be suspended while recording")
	svc.StopRecording()

	take := recordTake(t, svc, host)
	assert.Equal(t, "A", take.ID)
	assert.Equal(t, testRate, take.SampleRate)
	assert.True(t, take.Voiced)
	assert.InDelta(t, 1.35, take.RawDuration, 1e-9)
	// 5 voiced frames plus 0.1 s padding on each side
	assert.InDelta(t, 0.35, take.TrimmedDuration, 1e-9)
	assert.Len(t, take.RawWaveform, cfg.Audio.WaveformPoints)
	assert.Len(t, take.TrimmedWaveform, cfg.Audio.WaveformPoints)
	assert.Equal(t, service.StatusMonitoring, svc.GetRecordingStatus())

	saved, err := svc.SaveTake()
	require.NoError(t, err)
	assert.Equal(t, "A.wav", saved.AudioRef)
	assert.Equal(t, "AG", saved.Dialect)
	assert.Equal(t, "eins", saved.SourceText)
	assert.InDelta(t, 0.35, saved.Duration(), 1e-9)
	assert.Nil(t, svc.CurrentTake())

	samples, rate, err := audio.ReadWAV(filepath.Join(cfg.Settings.AudioDir(), "A.wav"))
	require.NoError(t, err)
	assert.Equal(t, testRate, rate)
	assert.Len(t, samples, 5600)

	out, err := dataset.ReadOutput(cfg.Settings.OutputFile())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "A", out[0].ID)

	assert.Equal(t, session.Progress{Total: 3, Open: 2, Completed: 1, TotalDuration: saved.Duration()}, svc.Progress())
}

func TestStopRecordingWithoutAudio(t *testing.T) {
	svc, _, _ := newService(t)

	require.NoError(t, svc.StartRecording())
	_, err := svc.StopRecording()
	assert.ErrorIs(t, err, service.ErrEmptyTake)
	assert.Nil(t, svc.CurrentTake())
}

func TestStopRecordingWhenIdle(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.StopRecording()
	assert.ErrorIs(t, err, audio.ErrState)
}

func TestSaveTakeRequiresEntryAndTake(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.SaveTake()
	assert.ErrorIs(t, err, service.ErrNoEntry)

	_, err = svc.Next()
	require.NoError(t, err)
	_, err = svc.SaveTake()
	assert.ErrorIs(t, err, service.ErrNoTake)
}

func TestSkip(t *testing.T) {
	svc, host, _ := newService(t)

	assert.ErrorIs(t, svc.Skip(), service.ErrNoEntry)

	_, err := svc.Next()
	require.NoError(t, err)
	recordTake(t, svc, host)
	require.NoError(t, svc.Skip())
	assert.Nil(t, svc.CurrentTake())
	_, ok := svc.Current()
	assert.False(t, ok)

	entry, err := svc.Next()
	require.NoError(t, err)
	assert.Equal(t, "B", entry.ID)
	assert.Equal(t, 1, svc.Progress().Skipped)
}

func TestSessionRunsOut(t *testing.T) {
	svc, _, _ := newService(t)
	for _, id := range []string{"A", "B", "C"} {
		entry, err := svc.Next()
		require.NoError(t, err)
		require.Equal(t, id, entry.ID)
		require.NoError(t, svc.Skip())
	}
	_, err := svc.Next()
	assert.ErrorIs(t, err, session.ErrEmptySession)
}

func TestProgressSurvivesRestart(t *testing.T) {
	cfg, configFile := testConfig(t)
	host := audiotest.NewFakeHost(audiotest.Mic(0, "USB Mic"))

	first := service.New(cfg, configFile, host)
	require.NoError(t, first.LoadSession())
	_, err := first.Next()
	require.NoError(t, err)
	recordTake(t, first, host)
	_, err = first.SaveTake()
	require.NoError(t, err)
	_, err = first.Next()
	require.NoError(t, err)
	require.NoError(t, first.Skip())
	require.NoError(t, first.Close())

	second := service.New(cfg, configFile, host)
	require.NoError(t, second.LoadSession())
	defer second.Close()

	entry, err := second.Next()
	require.NoError(t, err)
	assert.Equal(t, "C", entry.ID)
}

func TestApplySettingsRestartsMonitoringOnNewDevice(t *testing.T) {
	svc, host, cfg := newService(t)
	require.NoError(t, svc.StartMonitoring())

	settings := cfg.Settings
	settings.SelectedDevice = "Headset"
	require.NoError(t, svc.ApplySettings(settings))

	running := host.Running()
	require.Len(t, running, 1)
	assert.Equal(t, "Headset", running[0].Device.Name)
}

func TestApplySettingsSwitchesSpeaker(t *testing.T) {
	svc, host, cfg := newService(t)
	_, err := svc.Next()
	require.NoError(t, err)
	recordTake(t, svc, host)
	_, err = svc.SaveTake()
	require.NoError(t, err)

	settings := cfg.Settings
	settings.SpeakerID = "speaker2"
	require.NoError(t, svc.ApplySettings(settings))

	assert.Equal(t, "speaker2", svc.GetConfig().Settings.SpeakerID)
	assert.Equal(t, 3, svc.Progress().Open)
	_, ok := svc.Current()
	assert.False(t, ok)
}

func TestApplySettingsInvalidKeepsPrevious(t *testing.T) {
	svc, _, cfg := newService(t)

	settings := cfg.Settings
	settings.SpeakerDialect = "XX"
	assert.Error(t, svc.ApplySettings(settings))
	assert.Equal(t, "AG", svc.GetConfig().Settings.SpeakerDialect)
}

func TestApplySettingsBadInputKeepsPrevious(t *testing.T) {
	svc, _, cfg := newService(t)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"not": "a list"}`), 0644))

	settings := cfg.Settings
	settings.InputFile = bad
	err := svc.ApplySettings(settings)
	var fe *dataset.FormatError
	require.ErrorAs(t, err, &fe)
	assert.NotEqual(t, bad, svc.GetConfig().Settings.InputFile)
	assert.Equal(t, 3, svc.Progress().Open)
}

func TestApplySettingsWhileRecording(t *testing.T) {
	svc, _, cfg := newService(t)
	require.NoError(t, svc.StartRecording())

	err := svc.ApplySettings(cfg.Settings)
	assert.ErrorIs(t, err, audio.ErrState)
}

func TestSaveConfig(t *testing.T) {
	cfg, configFile := testConfig(t)
	svc := service.New(cfg, configFile, audiotest.NewFakeHost())
	defer svc.Close()

	require.NoError(t, svc.SaveConfig())
	loaded, err := config.Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, cfg.Settings, loaded.Settings)
}

func TestPlayTake(t *testing.T) {
	svc, host, _ := newService(t)
	assert.ErrorIs(t, svc.PlayTake(true), service.ErrNoTake)

	_, err := svc.Next()
	require.NoError(t, err)
	take := recordTake(t, svc, host)

	require.NoError(t, svc.PlayTake(true))
	assert.True(t, svc.IsPlaying())

	outputs := host.Outputs()
	require.Len(t, outputs, 1)
	assert.Equal(t, testRate, outputs[0].Config.SampleRate)
	chunk, ok := outputs[0].Pull(len(take.Trimmed))
	require.True(t, ok)
	assert.Equal(t, []float32(take.Trimmed), chunk)

	svc.StopPlayback()
	assert.False(t, svc.IsPlaying())
}

func TestPlayEntry(t *testing.T) {
	svc, host, cfg := newService(t)

	_, err := svc.AudioPath("A")
	assert.Error(t, err, "no recording yet")

	_, err = svc.Next()
	require.NoError(t, err)
	recordTake(t, svc, host)
	_, err = svc.SaveTake()
	require.NoError(t, err)

	path, err := svc.AudioPath("A")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Settings.AudioDir(), "A.wav"), path)

	require.NoError(t, svc.PlayEntry("A"))
	assert.True(t, svc.IsPlaying())
	svc.StopPlayback()
}

func TestTakeFileName(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"42", "42.wav"},
		{"zwöi-1_b.2", "zwöi-1_b.2.wav"},
		{"a/b", "a%2Fb.wav"},
		{"a:b", "a%3Ab.wav"},
		{"a%2Fb", "a%252Fb.wav"},
		{`c:\d`, "c%3A%5Cd.wav"},
		{"..", "%2E..wav"},
		{" A", "%20A.wav"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, service.TakeFileName(tt.id), tt.id)
	}
}

func TestTakeFileName_DistinctIDsDistinctFiles(t *testing.T) {
	ids := []string{"a/b", "a:b", "a_b", "a b", "a%2Fb", "a%3Ab", ".a", "%2Ea"}
	seen := make(map[string]string)
	for _, id := range ids {
		name := service.TakeFileName(id)
		if other, dup := seen[name]; dup {
			t.Fatalf("ids %q and %q share file %s", other, id, name)
		}
		seen[name] = id
	}
}

func TestSaveTake_SimilarIDsKeepSeparateAudio(t *testing.T) {
	svc, host, cfg := newServiceWithInput(t, `[
  {"id": "a/b", "de": "eins", "ch_ag": "eis"},
  {"id": "a_b", "de": "zwei", "ch_ag": "zwöi"},
  {"id": "a:b", "de": "drei", "ch_ag": "drüü"}
]`)

	refs := make(map[string]string)
	for i := 0; i < 3; i++ {
		entry, err := svc.Next()
		require.NoError(t, err)
		recordTake(t, svc, host)
		saved, err := svc.SaveTake()
		require.NoError(t, err)
		refs[entry.ID] = saved.AudioRef
	}

	assert.Len(t, refs, 3)
	files, err := os.ReadDir(cfg.Settings.AudioDir())
	require.NoError(t, err)
	assert.Len(t, files, 3)

	out, err := dataset.ReadOutput(cfg.Settings.OutputFile())
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.NotEqual(t, out[0].AudioRef, out[1].AudioRef)
	assert.NotEqual(t, out[1].AudioRef, out[2].AudioRef)
}

func TestSaveTake_RefusesFileOwnedByAnotherEntry(t *testing.T) {
	svc, host, cfg := newServiceWithInput(t, `[
  {"id": "X", "de": "eins", "ch_ag": "eis"},
  {"id": "x", "de": "zwei", "ch_ag": "zwöi"}
]`)

	_, err := svc.Next()
	require.NoError(t, err)
	recordTake(t, svc, host)
	_, err = svc.SaveTake()
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(cfg.Settings.AudioDir(), "X.wav"))
	require.NoError(t, err)

	// "x.wav" and "X.wav" are the same file on case-insensitive file systems.
	_, err = svc.Next()
	require.NoError(t, err)
	recordTake(t, svc, host)
	_, err = svc.SaveTake()
	assert.ErrorIs(t, err, service.ErrAudioRefTaken)
	assert.NotNil(t, svc.CurrentTake(), "take is kept so it is not lost")

	after, err := os.ReadFile(filepath.Join(cfg.Settings.AudioDir(), "X.wav"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, svc.Progress().Completed)
}
