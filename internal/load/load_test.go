package load

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
)

func parse(t *testing.T, src string) []*ir.Declaration {
	t.Helper()
	decls, err := Parse("test.hcl", []byte(src))
	require.NoError(t, err)
	return decls
}

// constValue resolves an expression that must not depend on other resources.
func constValue(t *testing.T, expr ir.Expr) cty.Value {
	t.Helper()
	v, err := expr.Resolve(&ir.ResolveContext{Index: -1})
	require.NoError(t, err)
	return v
}

func TestParseResourceBlock(t *testing.T) {
	decls := parse(t, `
resource "aws_instance" "web" {
  ami           = "ami-123456"
  instance_type = "t3.micro"
  port          = 8080
  public        = true
}
`)
	require.Len(t, decls, 1)

	d := decls[0]
	assert.Equal(t, "aws_instance", d.Type)
	assert.Equal(t, "web", d.Name)
	// Provider inferred from the type prefix.
	assert.Equal(t, "aws", d.Provider)

	assert.True(t, constValue(t, d.Attributes["ami"]).RawEquals(cty.StringVal("ami-123456")))
	assert.True(t, constValue(t, d.Attributes["port"]).RawEquals(cty.NumberIntVal(8080)))
	assert.True(t, constValue(t, d.Attributes["public"]).RawEquals(cty.True))
}

func TestParseExplicitProvider(t *testing.T) {
	decls := parse(t, `
resource "custom_thing" "x" {
  provider = "docker"
}
`)
	assert.Equal(t, "docker", decls[0].Provider)
	// provider is reserved, not a resource attribute.
	assert.NotContains(t, decls[0].Attributes, "provider")
}

func TestParseCountAndCondition(t *testing.T) {
	decls := parse(t, `
resource "aws_instance" "web" {
  count     = 3
  condition = true
}
`)
	d := decls[0]
	require.NotNil(t, d.Count)
	require.NotNil(t, d.Condition)
	assert.True(t, constValue(t, d.Count).RawEquals(cty.NumberIntVal(3)))
	assert.True(t, constValue(t, d.Condition).RawEquals(cty.True))
}

func TestParseReferences(t *testing.T) {
	decls := parse(t, `
resource "aws_instance" "web" {
  subnet_id = subnet.id
  backup_id = subnet[1].id
  whole     = vpc
}
`)
	d := decls[0]

	assert.Equal(t, []ir.Ref{{Name: "subnet", Index: -1, Attribute: "id"}},
		d.Attributes["subnet_id"].References())
	assert.Equal(t, []ir.Ref{{Name: "subnet", Index: 1, Attribute: "id"}},
		d.Attributes["backup_id"].References())
	assert.Equal(t, []ir.Ref{{Name: "vpc", Index: -1}},
		d.Attributes["whole"].References())
}

func TestParseCountIndex(t *testing.T) {
	decls := parse(t, `
resource "aws_instance" "web" {
  idx  = count.index
  name = "web-${count.index}"
}
`)
	d := decls[0]

	// count.index is not a resource reference.
	assert.Empty(t, d.Attributes["idx"].References())
	assert.Empty(t, d.Attributes["name"].References())

	rc := &ir.ResolveContext{
		Index:  2,
		Lookup: func(ir.Ref) (cty.Value, error) { return cty.NilVal, nil },
	}
	v, err := d.Attributes["idx"].Resolve(rc)
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.NumberIntVal(2)))

	v, err = d.Attributes["name"].Resolve(rc)
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.StringVal("web-2")))

	// Outside a counted resource the index has no value.
	_, err = d.Attributes["idx"].Resolve(&ir.ResolveContext{Index: -1})
	require.Error(t, err)
}

func TestParseComputedExpression(t *testing.T) {
	decls := parse(t, `
resource "aws_route" "out" {
  destination = "${vpc.cidr}-egress"
  doubled     = net.port + net.port
}
`)
	d := decls[0]

	assert.Equal(t, []ir.Ref{{Name: "vpc", Index: -1, Attribute: "cidr"}},
		d.Attributes["destination"].References())
	assert.Equal(t, []ir.Ref{{Name: "net", Index: -1, Attribute: "port"}},
		d.Attributes["doubled"].References())

	rc := &ir.ResolveContext{
		Index: -1,
		Lookup: func(ref ir.Ref) (cty.Value, error) {
			switch ref.Name {
			case "vpc":
				return cty.ObjectVal(map[string]cty.Value{"cidr": cty.StringVal("10.0.0.0/16")}), nil
			case "net":
				return cty.ObjectVal(map[string]cty.Value{"port": cty.NumberIntVal(21)}), nil
			}
			return cty.NilVal, nil
		},
	}

	v, err := d.Attributes["destination"].Resolve(rc)
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.StringVal("10.0.0.0/16-egress")))

	v, err = d.Attributes["doubled"].Resolve(rc)
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.NumberIntVal(42)))
}

func TestParseCollections(t *testing.T) {
	decls := parse(t, `
resource "docker_container" "app" {
  ports = [80, 443]
  labels = {
    role = "frontend"
    tier = upper("web")
  }
  mixed = [subnet.id, "static"]
}
`)
	d := decls[0]

	assert.True(t, constValue(t, d.Attributes["ports"]).RawEquals(
		cty.TupleVal([]cty.Value{cty.NumberIntVal(80), cty.NumberIntVal(443)})))

	labels := constValue(t, d.Attributes["labels"])
	assert.True(t, labels.GetAttr("role").RawEquals(cty.StringVal("frontend")))
	assert.True(t, labels.GetAttr("tier").RawEquals(cty.StringVal("WEB")))

	// References inside collections surface for graph analysis.
	assert.Equal(t, []ir.Ref{{Name: "subnet", Index: -1, Attribute: "id"}},
		d.Attributes["mixed"].References())
}

func TestParseFunctions(t *testing.T) {
	decls := parse(t, `
resource "aws_s3_bucket" "b" {
  name  = lower("MY-BUCKET")
  label = join("-", ["a", "b", "c"])
}
`)
	d := decls[0]
	assert.True(t, constValue(t, d.Attributes["name"]).RawEquals(cty.StringVal("my-bucket")))
	assert.True(t, constValue(t, d.Attributes["label"]).RawEquals(cty.StringVal("a-b-c")))
}

func TestParseLifecycle(t *testing.T) {
	decls := parse(t, `
resource "aws_db_instance" "db" {
  engine = "postgres"

  lifecycle {
    replace_triggers      = ["engine", "storage"]
    ignore_changes        = ["tags"]
    create_before_destroy = true
    prevent_destroy       = true
  }
}
`)
	lc := decls[0].Lifecycle
	require.NotNil(t, lc)
	assert.Equal(t, []string{"engine", "storage"}, lc.ReplaceTriggers)
	assert.Equal(t, []string{"tags"}, lc.IgnoreChanges)
	assert.True(t, lc.CreateBeforeDestroy)
	assert.True(t, lc.PreventDestroy)
}

func TestParseDependsOn(t *testing.T) {
	decls := parse(t, `
resource "aws_instance" "web" {
  depends_on = [db, "cache"]
}
`)
	assert.Equal(t, []string{"db", "cache"}, decls[0].DependsOn)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "top level attribute",
			src:  `region = "us-east-1"`,
			want: "top-level attribute",
		},
		{
			name: "unknown block",
			src:  `module "x" {}`,
			want: "unsupported block type",
		},
		{
			name: "missing label",
			src:  `resource "aws_instance" {}`,
			want: "two labels",
		},
		{
			name: "unknown lifecycle attribute",
			src: `resource "a_b" "x" {
  lifecycle {
    frobnicate = true
  }
}`,
			want: "unsupported lifecycle attribute",
		},
		{
			name: "depends_on not a list",
			src: `resource "a_b" "x" {
  depends_on = "db"
}`,
			want: "list of resource names",
		},
		{
			name: "provider not constant",
			src: `resource "a_b" "x" {
  provider = other.name
}`,
			want: "constant",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("test.hcl", []byte(tc.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDirLoadsFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20-app.hcl"),
		[]byte(`resource "test_app" "app" {}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10-net.hcl"),
		[]byte(`resource "test_net" "net" {}`), 0o644))

	decls, err := Dir(dir)
	require.NoError(t, err)
	require.Len(t, decls, 2)
	assert.Equal(t, "net", decls[0].Name)
	assert.Equal(t, "app", decls[1].Name)
}

func TestDirRequiresSpecFiles(t *testing.T) {
	_, err := Dir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .hcl specification files")
}
