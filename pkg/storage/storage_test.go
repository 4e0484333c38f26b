package storage

import (
	"bytes"
	"strings"
	"testing"
)

func TestDocker_ImageRef(t *testing.T) {
	tests := []struct {
		name     string
		registry string
		image    string
		tag      string
		want     string
	}{
		{name: "bare", image: "etl", want: "etl:latest"},
		{name: "tagged", image: "etl", tag: "v1", want: "etl:v1"},
		{name: "registry", registry: "registry.example.com:5000", image: "team/etl", tag: "v1", want: "registry.example.com:5000/team/etl:v1"},
		{name: "registry url", registry: "https://registry.example.com/", image: "etl", tag: "v2", want: "registry.example.com/etl:v2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDocker(tt.registry, tt.image, tt.tag)
			if got := d.ImageRef(); got != tt.want {
				t.Errorf("ImageRef() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDocker_AddFlow(t *testing.T) {
	d := NewDocker("", "etl", "v1")

	p, err := d.AddFlow("Nightly ETL!")
	if err != nil {
		t.Fatalf("AddFlow failed: %v", err)
	}
	if p != "/root/.prefect/flows/nightly-etl.prefect" {
		t.Errorf("path = %s", p)
	}
	if got, ok := d.FlowPath("Nightly ETL!"); !ok || got != p {
		t.Errorf("FlowPath() = %s, %v", got, ok)
	}

	if _, err := d.AddFlow("Nightly ETL!"); err == nil {
		t.Error("expected duplicate flow error")
	}
	if _, err := d.AddFlow("  "); err == nil {
		t.Error("expected error for empty name")
	}

	d.FlowDir = "/opt/flows"
	p, _ = d.AddFlow("other")
	if p != "/opt/flows/other.prefect" {
		t.Errorf("path with custom dir = %s", p)
	}

	if err := d.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestDocker_Validate(t *testing.T) {
	tests := []struct {
		name    string
		docker  *Docker
		wantErr bool
	}{
		{name: "minimal", docker: &Docker{ImageName: "etl"}},
		{name: "registry host port", docker: &Docker{RegistryURL: "localhost:5000", ImageName: "etl"}},
		{name: "no image", docker: &Docker{}, wantErr: true},
		{name: "tag in image name", docker: &Docker{ImageName: "etl:v1"}, wantErr: true},
		{name: "bad tag", docker: &Docker{ImageName: "etl", ImageTag: "v1/x"}, wantErr: true},
		{name: "relative flow dir", docker: &Docker{ImageName: "etl", FlowDir: "flows"}, wantErr: true},
		{name: "relative flow path", docker: &Docker{ImageName: "etl", FlowPaths: map[string]string{"a": "a.prefect"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.docker.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKinds(t *testing.T) {
	variants := map[Kind]Storage{
		KindDocker: &Docker{},
		KindLocal:  &Local{},
		KindMemory: &Memory{},
	}
	for want, s := range variants {
		if s.Kind() != want {
			t.Errorf("%T.Kind() = %s, want %s", s, s.Kind(), want)
		}
	}

	m := &Memory{FlowNames: []string{"a", "b"}}
	if len(m.Flows()) != 2 || m.Flows()["a"] != "a" {
		t.Errorf("memory flows = %v", m.Flows())
	}
}

func TestDecode(t *testing.T) {
	data := `
type: docker
registry_url: registry.example.com
image_name: etl
image_tag: "2024.06"
flows:
  etl: /root/.prefect/flows/etl.prefect
env:
  MODE: batch
`
	s, err := Decode(strings.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	d, ok := s.(*Docker)
	if !ok {
		t.Fatalf("decoded %T, want *Docker", s)
	}
	if d.ImageRef() != "registry.example.com/etl:2024.06" {
		t.Errorf("ImageRef() = %s", d.ImageRef())
	}
	if d.Env["MODE"] != "batch" {
		t.Errorf("env = %v", d.Env)
	}
	if p, _ := d.FlowPath("etl"); p != "/root/.prefect/flows/etl.prefect" {
		t.Errorf("flow path = %s", p)
	}
}

func TestDecode_Variants(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantKind Kind
		wantErr  string
	}{
		{name: "local", data: "type: local\ndirectory: /srv/flows\n", wantKind: KindLocal},
		{name: "memory", data: "type: memory\nflows: [a]\n", wantKind: KindMemory},
		{name: "memory bare", data: "type: memory\n", wantKind: KindMemory},
		{name: "empty", data: "", wantErr: "empty"},
		{name: "no type", data: "image_name: etl\n", wantErr: "no type"},
		{name: "unknown type", data: "type: s3\n", wantErr: "unknown storage type"},
		{name: "unknown field", data: "type: docker\nimage_name: etl\nplatform: arm\n", wantErr: "invalid docker storage descriptor"},
		{name: "invalid docker", data: "type: docker\n", wantErr: "invalid docker storage"},
		{name: "invalid local", data: "type: local\n", wantErr: "invalid local storage"},
		{name: "not a mapping", data: "- docker\n", wantErr: "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Decode(strings.NewReader(tt.data))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if s.Kind() != tt.wantKind {
				t.Errorf("kind = %s, want %s", s.Kind(), tt.wantKind)
			}
		})
	}
}

func TestEncode_DecodesBack(t *testing.T) {
	d := NewDocker("localhost:5000", "etl", "v3")
	if _, err := d.AddFlow("etl"); err != nil {
		t.Fatalf("AddFlow failed: %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, d); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "type: docker\n") {
		t.Errorf("encoded descriptor should start with its type:\n%s", buf.String())
	}

	s, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if s.(*Docker).ImageRef() != d.ImageRef() {
		t.Errorf("image ref changed: %s", s.(*Docker).ImageRef())
	}
}

func TestDescribe(t *testing.T) {
	d := NewDocker("", "etl", "v1")
	_, _ = d.AddFlow("b")
	_, _ = d.AddFlow("a")

	if got := Describe(d); got != "docker image etl:v1 (flows: a, b)" {
		t.Errorf("Describe() = %s", got)
	}
	if got := Describe(nil); got != "<nil>" {
		t.Errorf("Describe(nil) = %s", got)
	}
	if got := Describe(&Memory{}); got != "memory storage (flows: )" {
		t.Errorf("Describe(memory) = %s", got)
	}
}
