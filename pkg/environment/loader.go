package environment

import (
	"fmt"
	"io"
	"os"

	"github.com/openfroyo/flowenv/pkg/engine"
)

// Opener opens the flow artifact at path.
type Opener func(path string) (io.ReadCloser, error)

// Decoder turns the artifact bytes into a flow.
type Decoder func(data []byte) (*engine.Flow, error)

// OSOpener opens artifacts on the local filesystem.
func OSOpener(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Loader materializes a flow from its serialized artifact.
type Loader struct {
	Opener  Opener
	Decoder Decoder
}

// NewLoader returns a loader reading from the filesystem with engine.DecodeFlow.
func NewLoader() *Loader {
	return &Loader{Opener: OSOpener, Decoder: engine.DecodeFlow}
}

// Load reads and decodes the artifact at path. The handle is closed on every path.
// Open and read failures are ARTIFACT_UNREADABLE, decode failures ARTIFACT_MALFORMED.
func (l *Loader) Load(path string) (*engine.Flow, error) {
	open := l.Opener
	if open == nil {
		open = OSOpener
	}
	decode := l.Decoder
	if decode == nil {
		decode = engine.DecodeFlow
	}

	f, err := open(path)
	if err != nil {
		return nil, engine.NewLoadFailure(fmt.Sprintf("cannot open flow artifact %s", path), err).
			WithCode(engine.ErrCodeArtifactUnreadable).
			WithDetail("path", path).
			WithDetail("remediation", "re-stage the artifact")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, engine.NewLoadFailure(fmt.Sprintf("cannot read flow artifact %s", path), err).
			WithCode(engine.ErrCodeArtifactUnreadable).
			WithDetail("path", path).
			WithDetail("remediation", "re-stage the artifact")
	}

	flow, err := decode(data)
	if err != nil {
		return nil, engine.NewLoadFailure(fmt.Sprintf("flow artifact %s is malformed", path), err).
			WithCode(engine.ErrCodeArtifactMalformed).
			WithDetail("path", path).
			WithDetail("remediation", "re-build the artifact")
	}
	if flow == nil {
		return nil, engine.NewLoadFailure(fmt.Sprintf("flow artifact %s decoded to nothing", path), nil).
			WithCode(engine.ErrCodeArtifactMalformed).
			WithDetail("path", path)
	}
	return flow, nil
}
