package cases

import "fmt"

// TestType is the operation a case exercises.
type TestType int

const (
	TTLength TestType = iota
	TTConstant
	TTConvert
	TTComposite
	TTCompositeRvalue
	TTVectorExtract
	TTAdd
	TTSub
	TTMul
	TTDiv
	TTNegate
	TTVectorTimesScalar
	TTFunc
	TTExp
	TTLog
	TTTanh
	TTAtan
	TTMin
	TTMax
	TTClamp
	TTStep
	TTFma
	TTCompositeArray
	TTAnd
	TTOr
	TTXor
	TTNot
	TTShl
	TTShr
	TTMatrixMul
	TTMatrixMulTrainingBias
	TTMatrixMad
	TTMatrixMadTranspose
	TTMatrixMul3
	TTMatrixMul2Add
	TTMatrixMul2AddMul2
	TTReduceSum
	TTOuterProduct

	numTestTypes
)

// OpClass groups test types by how they are evaluated.
type OpClass int

const (
	ClassElementwise OpClass = iota
	ClassMatrixMul
	ClassTraining
)

type testTypeInfo struct {
	name  string
	class OpClass
	// floatOnly ops are skipped when either side is an integer type,
	// intOnly ops when either side is a float type.
	floatOnly bool
	intOnly   bool
}

var testTypeTable = [numTestTypes]testTypeInfo{
	TTLength:                {name: "length"},
	TTConstant:              {name: "constant"},
	TTConvert:               {name: "convert"},
	TTComposite:             {name: "composite"},
	TTCompositeRvalue:       {name: "composite_rvalue"},
	TTVectorExtract:         {name: "vector_extract"},
	TTAdd:                   {name: "add"},
	TTSub:                   {name: "sub"},
	TTMul:                   {name: "mul"},
	TTDiv:                   {name: "div"},
	TTNegate:                {name: "negate"},
	TTVectorTimesScalar:     {name: "vectortimesscalar"},
	TTFunc:                  {name: "func"},
	TTExp:                   {name: "exp", floatOnly: true},
	TTLog:                   {name: "log", floatOnly: true},
	TTTanh:                  {name: "tanh", floatOnly: true},
	TTAtan:                  {name: "atan", floatOnly: true},
	TTMin:                   {name: "min"},
	TTMax:                   {name: "max"},
	TTClamp:                 {name: "clamp"},
	TTStep:                  {name: "step", floatOnly: true},
	TTFma:                   {name: "fma", floatOnly: true},
	TTCompositeArray:        {name: "composite_array"},
	TTAnd:                   {name: "and", intOnly: true},
	TTOr:                    {name: "or", intOnly: true},
	TTXor:                   {name: "xor", intOnly: true},
	TTNot:                   {name: "not", intOnly: true},
	TTShl:                   {name: "shl", intOnly: true},
	TTShr:                   {name: "shr", intOnly: true},
	TTMatrixMul:             {name: "matrixmul", class: ClassMatrixMul},
	TTMatrixMulTrainingBias: {name: "matrixmultrainingbias", class: ClassMatrixMul},
	TTMatrixMad:             {name: "matrixmuladd", class: ClassMatrixMul},
	TTMatrixMadTranspose:    {name: "matrixmuladdtranspose", class: ClassMatrixMul},
	TTMatrixMul3:            {name: "matrixmul3", class: ClassMatrixMul},
	TTMatrixMul2Add:         {name: "matrixmul2add", class: ClassMatrixMul},
	TTMatrixMul2AddMul2:     {name: "matrixmul2addmul2", class: ClassMatrixMul},
	TTReduceSum:             {name: "reducesum", class: ClassTraining},
	TTOuterProduct:          {name: "outerproduct", class: ClassTraining},
}

func (t TestType) String() string {
	if t < 0 || t >= numTestTypes {
		return fmt.Sprintf("TestType(%d)", int(t))
	}
	return testTypeTable[t].name
}

func (t TestType) Class() OpClass { return testTypeTable[t].class }

func (t TestType) IsMatrixMul() bool { return t.Class() == ClassMatrixMul }

func (t TestType) IsTraining() bool { return t.Class() == ClassTraining }

// FloatOnly reports ops undefined for integer operands.
func (t TestType) FloatOnly() bool { return testTypeTable[t].floatOnly }

// IntOnly reports bitwise ops undefined for float operands.
func (t TestType) IntOnly() bool { return testTypeTable[t].intOnly }

// Layers is the number of weight matrices the op consumes.
func (t TestType) Layers() int {
	if t == TTMatrixMul3 || t == TTMatrixMul2AddMul2 {
		return 3
	}
	return 1
}

// Stage is the pipeline stage a case executes in.
type Stage int

const (
	StageCompute Stage = iota
	StageRaygen
	StageIntersect
	StageAnyHit
	StageClosestHit
	StageMiss
	StageCallable
	StageVertex
	StageFragment
	StageGeometry
	StageTessCtrl
	StageTessEval
	StageTask
	StageMesh

	numStages
)

type stageInfo struct {
	name       string
	ext        string
	rayTracing bool
	mesh       bool
}

var stageTable = [numStages]stageInfo{
	StageCompute:    {"compute", "comp", false, false},
	StageRaygen:     {"raygen", "rgen", true, false},
	StageIntersect:  {"isect", "rint", true, false},
	StageAnyHit:     {"ahit", "rahit", true, false},
	StageClosestHit: {"chit", "rchit", true, false},
	StageMiss:       {"miss", "rmiss", true, false},
	StageCallable:   {"callable", "rcall", true, false},
	StageVertex:     {"vertex", "vert", false, false},
	StageFragment:   {"fragment", "frag", false, false},
	StageGeometry:   {"geometry", "geom", false, false},
	StageTessCtrl:   {"tessctrl", "tesc", false, false},
	StageTessEval:   {"tesseval", "tese", false, false},
	StageTask:       {"task", "task", false, true},
	StageMesh:       {"mesh", "mesh", false, true},
}

func (s Stage) String() string {
	if s < 0 || s >= numStages {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageTable[s].name
}

// Extension is the conventional source file suffix of the stage.
func (s Stage) Extension() string { return stageTable[s].ext }

func (s Stage) IsRayTracing() bool { return stageTable[s].rayTracing }

func (s Stage) IsMesh() bool { return stageTable[s].mesh }

// IsGraphics reports rasterization pipeline stages.
func (s Stage) IsGraphics() bool {
	return s >= StageVertex && s <= StageTessEval
}

// Activation is the post-multiply function applied to a matmul result.
type Activation int

const (
	ActNone Activation = iota
	ActMul
	ActMax
	ActNonUniform
	ActDiverge
	ActSigmoid
	ActLeakyReluStep
	ActLeakyReluMax
	ActHardGelu
	ActLoad
	ActLoadShared
	ActLoadReadonly

	numActivations
)

var activationNames = [numActivations]string{
	"no_activation", "actmul", "actmax", "actnonuniform", "actdivergent", "actsigmoid",
	"actleakyrelustep", "actleakyrelumax", "acthardgelu", "actload", "actloadshared", "actloadreadonly",
}

func (a Activation) String() string {
	if a < 0 || a >= numActivations {
		return fmt.Sprintf("Activation(%d)", int(a))
	}
	return activationNames[a]
}

// IsLoad reports activations that add a value loaded from memory.
func (a Activation) IsLoad() bool {
	return a == ActLoad || a == ActLoadShared || a == ActLoadReadonly
}

// StorageClass is where the input and output vectors live.
type StorageClass int

const (
	SCBuffer StorageClass = iota
	SCWorkgroup
	SCWorkgroupVariablePointers
	SCBufferVariablePointers
	SCPhysicalStorageBuffer

	numStorageClasses
)

var storageClassNames = [numStorageClasses]string{
	"buffer", "workgroup", "workgroup_varptr", "buffer_varptr", "physical_buffer",
}

func (s StorageClass) String() string {
	if s < 0 || s >= numStorageClasses {
		return fmt.Sprintf("StorageClass(%d)", int(s))
	}
	return storageClassNames[s]
}

func (s StorageClass) IsWorkgroup() bool {
	return s == SCWorkgroup || s == SCWorkgroupVariablePointers
}

func (s StorageClass) IsVariablePointers() bool {
	return s == SCWorkgroupVariablePointers || s == SCBufferVariablePointers
}

// ResultAddress selects how training ops map invocations to results.
type ResultAddress int

const (
	ResultUniform ResultAddress = iota
	ResultUnique
	ResultClustered
)

// ClusterSize is the number of invocations sharing a clustered result.
const ClusterSize = 5

var resultAddressNames = [...]string{"resultuniform", "resultunique", "resultclustered"}

func (r ResultAddress) String() string {
	if r < 0 || int(r) >= len(resultAddressNames) {
		return fmt.Sprintf("ResultAddress(%d)", int(r))
	}
	return resultAddressNames[r]
}

// Index returns the result slot used by invocation i.
func (r ResultAddress) Index(i int) int {
	switch r {
	case ResultUnique:
		return i
	case ResultClustered:
		return i / ClusterSize
	}
	return 1
}
