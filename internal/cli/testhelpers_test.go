package cli

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/shailesh-ag78/Inspecta/internal/incident"
	"github.com/shailesh-ag78/Inspecta/internal/records"
	"github.com/shailesh-ag78/Inspecta/internal/tasks"
	"github.com/shailesh-ag78/Inspecta/internal/workflow"
)

func runCommand(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	if app == nil {
		app = newAppState()
	}
	app.noProgress = true
	app.pollInterval = time.Millisecond

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(append([]string{"--data-dir", t.TempDir()}, args...))

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// fakeService replays statuses in order and records what the commands sent.
type fakeService struct {
	statuses  []workflow.Status
	tasks     []records.TaskRecord
	submitted []incident.Upload
	retried   []string
	canceled  []string
	reviewed  []tasks.Status
	resumed   int
	err       error
}

func withService(svc *fakeService) *appState {
	app := newAppState()
	app.serviceFn = func(context.Context, bool) (incidentService, error) { return svc, nil }
	return app
}

func (f *fakeService) CreateInspection(_ context.Context, tenantID, siteID, inspectorID string) (records.Inspection, error) {
	return records.Inspection{ID: "insp-1", TenantID: tenantID, SiteID: siteID, InspectorID: inspectorID}, f.err
}

func (f *fakeService) Submit(_ context.Context, up incident.Upload) (records.Incident, error) {
	f.submitted = append(f.submitted, up)
	return records.Incident{ID: "inc-1", TenantID: up.TenantID, InspectionID: up.InspectionID}, f.err
}

func (f *fakeService) Status(_ context.Context, _, incidentID string) (workflow.Status, error) {
	if f.err != nil {
		return workflow.Status{}, f.err
	}
	st := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	st.IncidentID = incidentID
	return st, nil
}

func (f *fakeService) Tasks(context.Context, string, string) ([]records.TaskRecord, error) {
	return f.tasks, f.err
}

func (f *fakeService) ReviewTask(_ context.Context, _, _, _ string, status tasks.Status) error {
	f.reviewed = append(f.reviewed, status)
	return f.err
}

func (f *fakeService) Resume(context.Context) (int, error) {
	return f.resumed, f.err
}

func (f *fakeService) Retry(_ context.Context, _, incidentID string) error {
	f.retried = append(f.retried, incidentID)
	return f.err
}

func (f *fakeService) Cancel(_ context.Context, _, incidentID string) error {
	f.canceled = append(f.canceled, incidentID)
	return f.err
}

func (f *fakeService) Wait() {}

func (f *fakeService) Shutdown(context.Context) error { return nil }

func progressing(final workflow.Status) []workflow.Status {
	return []workflow.Status{
		{Status: workflow.StatusQueued, DisplayMessage: workflow.DisplayMessage(workflow.NodeQueued)},
		{Status: incident.NodeExtractAudio, DisplayMessage: workflow.DisplayMessage(incident.NodeExtractAudio)},
		{Status: incident.NodeTranscribe, DisplayMessage: workflow.DisplayMessage(incident.NodeTranscribe)},
		final,
	}
}

func makePCM16WAVForTest(samples []int16, sampleRate int, channels int) []byte {
	bytesPerSample := 2
	dataSize := len(samples) * bytesPerSample
	fmtChunkSize := 16
	riffSize := 4 + (8 + fmtChunkSize) + (8 + dataSize)

	out := make([]byte, 12+8+fmtChunkSize+8+dataSize)
	off := 0

	copy(out[off:], []byte("RIFF"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(riffSize))
	off += 4
	copy(out[off:], []byte("WAVE"))
	off += 4

	copy(out[off:], []byte("fmt "))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(fmtChunkSize))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], 1)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], uint16(channels))
	off += 2
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate*channels*bytesPerSample))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], uint16(channels*bytesPerSample))
	off += 2
	binary.LittleEndian.PutUint16(out[off:], 16)
	off += 2

	copy(out[off:], []byte("data"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(dataSize))
	off += 4

	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}

	return out
}
