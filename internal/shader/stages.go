package shader

import (
	"fmt"

	"github.com/23skdu/longbow-coopvec/internal/cases"
)

const localSize = "layout(local_size_x_id = 0, local_size_y_id = 1, local_size_z = 1) in;"

func stageDecls(d cases.Definition) []string {
	switch d.Stage {
	case cases.StageCompute:
		return []string{localSize}
	case cases.StageIntersect:
		return []string{"hitAttributeEXT vec3 hitAttribute;"}
	case cases.StageAnyHit, cases.StageClosestHit:
		return []string{"layout(location = 0) rayPayloadInEXT vec3 hitValue;", "hitAttributeEXT vec3 hitAttribute;"}
	case cases.StageMiss:
		return []string{"layout(location = 0) rayPayloadInEXT vec3 hitValue;"}
	case cases.StageCallable:
		return []string{"layout(location = 0) callableDataInEXT float dummy;"}
	case cases.StageTask, cases.StageMesh:
		return []string{"#extension GL_EXT_mesh_shader : enable", localSize}
	case cases.StageGeometry:
		return []string{
			"layout (triangles) in;",
			"layout (triangle_strip, max_vertices=3) out;",
			fmt.Sprintf("layout (invocations = %d) in;", d.ThreadsPerWorkgroupX),
		}
	case cases.StageTessCtrl:
		return []string{fmt.Sprintf("layout (vertices = %d) out;", d.ThreadsPerWorkgroupX)}
	case cases.StageTessEval:
		return []string{"layout (quads, equal_spacing, cw) in;"}
	}
	return nil
}

// invocationIndex is the expression mapping the stage's built-ins to the
// linear invocation index used for all addressing.
func invocationIndex(d cases.Definition) string {
	switch d.Stage {
	case cases.StageCompute, cases.StageTask, cases.StageMesh:
		return "gl_LocalInvocationIndex + gl_WorkGroupSize.x*gl_WorkGroupSize.y*(gl_WorkGroupID.x + gl_WorkGroupID.y*gl_NumWorkGroups.x)"
	case cases.StageVertex:
		return "gl_VertexIndex"
	case cases.StageFragment:
		return "width*uint(gl_FragCoord.y) + uint(gl_FragCoord.x)"
	case cases.StageGeometry:
		return fmt.Sprintf("%d * gl_PrimitiveIDIn + gl_InvocationID", d.ThreadsPerWorkgroupX)
	case cases.StageTessCtrl:
		return "gl_PatchVerticesIn * gl_PrimitiveID + gl_InvocationID"
	case cases.StageTessEval:
		// one row of the tessellated quad per workgroup
		return fmt.Sprintf("%d * gl_PrimitiveID + uint(round(gl_TessCoord.x * %d))", d.ThreadsPerWorkgroupX, d.ThreadsPerWorkgroupX)
	case cases.StageRaygen, cases.StageIntersect, cases.StageAnyHit, cases.StageClosestHit, cases.StageMiss, cases.StageCallable:
		return "gl_LaunchIDEXT.x + gl_LaunchIDEXT.y*gl_LaunchSizeEXT.x"
	}
	panic(fmt.Sprintf("shader: unknown stage %v", d.Stage))
}

func stageEpilogue(s cases.Stage) []string {
	switch s {
	case cases.StageIntersect:
		return []string{"hitAttribute = vec3(0.0f, 0.0f, 0.0f);", "reportIntersectionEXT(1.0f, 0);"}
	case cases.StageVertex:
		return []string{"gl_PointSize = 1.0f;"}
	case cases.StageTask:
		return []string{"EmitMeshTasksEXT(0, 0, 0);"}
	}
	return nil
}

func mainName(s cases.Stage) string {
	switch s {
	case cases.StageTessCtrl:
		return "tesc"
	case cases.StageTessEval:
		return "tese"
	}
	return "test"
}

const passthroughVertex = `#version 450 core
void main()
{
  gl_Position = vec4(0,0,0,1);
}
`

const fullscreenVertex = `#version 450 core
void main()
{
  gl_Position = vec4( 2.0*float(gl_VertexIndex&2) - 1.0, 4.0*(gl_VertexIndex&1)-1.0, 1.0 - 2.0 * float(gl_VertexIndex&1), 1);
}
`

const emptyTessEval = `#version 450 core
layout (triangles, equal_spacing, cw) in;
void main()
{
}
`

const emptyMesh = `#version 450
#extension GL_EXT_mesh_shader : enable
#extension GL_EXT_nonuniform_qualifier : enable
layout(local_size_x=1, local_size_y=1, local_size_z=1) in;
layout(triangles) out;
layout(max_vertices=3, max_primitives=1) out;
void main()
{
  SetMeshOutputsEXT(0, 0);
}
`

const traceRaygen = `#version 460 core
#extension GL_EXT_ray_tracing : require
layout(location = 0) rayPayloadEXT vec3 hitValue;
layout(set = 0, binding = 5) uniform accelerationStructureEXT topLevelAS;

void main()
{
  uint  rayFlags = 0;
  uint  cullMask = 0xFF;
  float tmin     = 0.0;
  float tmax     = 9.0;
  vec3  origin   = vec3((float(gl_LaunchIDEXT.x) + 0.5f) / float(gl_LaunchSizeEXT.x), (float(gl_LaunchIDEXT.y) + 0.5f) / float(gl_LaunchSizeEXT.y), 0.0);
  vec3  direct   = vec3(0.0, 0.0, -1.0);
  traceRayEXT(topLevelAS, rayFlags, cullMask, 0, 0, 0, origin, tmin, direct, tmax, 0);
}
`

const callableRaygen = `#version 460 core
#extension GL_EXT_nonuniform_qualifier : enable
#extension GL_EXT_ray_tracing : require
layout(location = 0) callableDataEXT float dummy;
layout(set = 0, binding = 5) uniform accelerationStructureEXT topLevelAS;

void main()
{
  executeCallableEXT(0, 0);
}
`

// tessControl drives one patch with an outer level of tpwX on two edges.
func tessControl(tpwX int) string {
	return fmt.Sprintf(`#version 450 core
layout (vertices = 4) out;
void main()
{
  gl_TessLevelInner[0] = 1.0;
  gl_TessLevelInner[1] = 1.0;
  gl_TessLevelOuter[0] = 1.0;
  gl_TessLevelOuter[1] = %d;
  gl_TessLevelOuter[2] = 1.0;
  gl_TessLevelOuter[3] = %d;
}
`, tpwX, tpwX)
}

func auxSources(d cases.Definition) []Source {
	switch d.Stage {
	case cases.StageFragment:
		return []Source{{Name: "vert", Stage: "vert", Text: fullscreenVertex}}
	case cases.StageGeometry:
		return []Source{{Name: "vert", Stage: "vert", Text: passthroughVertex}}
	case cases.StageTessCtrl:
		return []Source{
			{Name: "vert", Stage: "vert", Text: passthroughVertex},
			{Name: "tese", Stage: "tese", Text: emptyTessEval},
		}
	case cases.StageTessEval:
		return []Source{
			{Name: "vert", Stage: "vert", Text: passthroughVertex},
			{Name: "tesc", Stage: "tesc", Text: tessControl(d.ThreadsPerWorkgroupX)},
		}
	case cases.StageTask:
		return []Source{{Name: "mesh", Stage: "mesh", Text: emptyMesh}}
	case cases.StageIntersect, cases.StageAnyHit, cases.StageClosestHit, cases.StageMiss:
		return []Source{{Name: "rgen", Stage: "rgen", Text: traceRaygen}}
	case cases.StageCallable:
		return []Source{{Name: "rgen", Stage: "rgen", Text: callableRaygen}}
	}
	return nil
}
