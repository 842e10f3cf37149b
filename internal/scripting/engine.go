package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vcworld/vcworld/internal/core/ecs"
	"github.com/vcworld/vcworld/internal/data"
	"github.com/vcworld/vcworld/internal/world"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM bound to one spatial index.
// Single-goroutine access only, same as the index it drives.
type Engine struct {
	vm    *lua.LState
	idx   *world.Index
	log   *zap.Logger
	stack bool // default for spawn and move when the script omits it
}

// NewEngine creates a Lua VM with the world API registered as globals.
func NewEngine(idx *world.Index, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, idx: idx, log: log, stack: true}
	e.register()
	return e
}

func (e *Engine) register() {
	for name, fn := range map[string]lua.LGFunction{
		"spawn":        e.luaSpawn,
		"remove":       e.luaRemove,
		"move":         e.luaMove,
		"query_point":  e.luaQueryPoint,
		"query_radius": e.luaQueryRadius,
		"query_dim":    e.luaQueryDim,
		"set_attr":     e.luaSetAttr,
		"get_attr":     e.luaGetAttr,
		"count":        e.luaCount,
		"cells":        e.luaCells,
	} {
		e.vm.SetGlobal(name, e.vm.NewFunction(fn))
	}
}

// SetStacking sets the stacking mode spawn and move use when the script
// passes none.
func (e *Engine) SetStacking(allow bool) {
	e.stack = allow
}

// RunDir runs every .lua file in dir in file name order. A missing directory
// is not an error. It returns the number of scripts run.
func (e *Engine) RunDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil // skip missing dirs
		}
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return n, fmt.Errorf("run %s: %w", path, err)
		}
		n++
		e.log.Debug("ran lua script", zap.String("file", path), zap.Int("entities", e.idx.Count()))
	}
	return n, nil
}

// RunString runs a Lua chunk.
func (e *Engine) RunString(src string) error {
	if err := e.vm.DoString(src); err != nil {
		return fmt.Errorf("run lua chunk: %w", err)
	}
	return nil
}

// --- World API ---

// spawn(x, y, archetype [, stack]) -> id | nil, err
func (e *Engine) luaSpawn(L *lua.LState) int {
	x := float32(L.CheckNumber(1))
	y := float32(L.CheckNumber(2))
	def, err := checkArchetype(L, 3)
	if err != nil {
		return pushFail(L, lua.LNil, err)
	}
	stack := L.OptBool(4, e.stack)

	ent, err := e.idx.Arena().Create(x, y, def)
	if err != nil {
		return pushFail(L, lua.LNil, err)
	}
	if err := e.idx.InsertEntity(ent, stack); err != nil {
		_ = e.idx.Arena().Release(ent.ID())
		return pushFail(L, lua.LNil, err)
	}
	L.Push(idValue(ent.ID()))
	return 1
}

// remove(id) -> true | false, err. The entity is released as well.
func (e *Engine) luaRemove(L *lua.LState) int {
	id := checkID(L, 1)
	if err := e.idx.Remove(id); err != nil {
		return pushFail(L, lua.LFalse, err)
	}
	if err := e.idx.Arena().Release(id); err != nil {
		return pushFail(L, lua.LFalse, err)
	}
	L.Push(lua.LTrue)
	return 1
}

// move(id, dx, dy [, stack]) -> true | false, err
func (e *Engine) luaMove(L *lua.LState) int {
	id := checkID(L, 1)
	dx := float32(L.CheckNumber(2))
	dy := float32(L.CheckNumber(3))
	if err := e.idx.Move(id, dx, dy, L.OptBool(4, e.stack)); err != nil {
		return pushFail(L, lua.LFalse, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func (e *Engine) luaQueryPoint(L *lua.LState) int {
	cur := e.idx.QueryPoint(float32(L.CheckNumber(1)), float32(L.CheckNumber(2)))
	L.Push(e.drain(cur))
	return 1
}

func (e *Engine) luaQueryRadius(L *lua.LState) int {
	cur := e.idx.QueryRadius(float32(L.CheckNumber(1)), float32(L.CheckNumber(2)), float32(L.CheckNumber(3)))
	L.Push(e.drain(cur))
	return 1
}

func (e *Engine) luaQueryDim(L *lua.LState) int {
	cur := e.idx.QueryDim(float32(L.CheckNumber(1)), float32(L.CheckNumber(2)),
		int32(L.CheckInt(3)), int32(L.CheckInt(4)))
	L.Push(e.drain(cur))
	return 1
}

// drain converts every entity left in the cursor into an array of tables.
func (e *Engine) drain(cur *world.Cursor) *lua.LTable {
	out := e.vm.NewTable()
	for ent := range cur.All() {
		out.Append(e.entityTable(ent))
	}
	return out
}

func (e *Engine) entityTable(ent *world.Entity) *lua.LTable {
	t := e.vm.NewTable()
	x, y := ent.Position()
	t.RawSetString("id", idValue(ent.ID()))
	t.RawSetString("x", lua.LNumber(x))
	t.RawSetString("y", lua.LNumber(y))
	for a := data.Attribute(0); a < data.AttrCount; a++ {
		t.RawSetString(a.String(), lua.LNumber(ent.Attr(a)))
	}
	return t
}

// set_attr(id, name, value) -> true | false, err
func (e *Engine) luaSetAttr(L *lua.LState) int {
	ent, attr, err := e.checkEntityAttr(L)
	if err != nil {
		return pushFail(L, lua.LFalse, err)
	}
	ent.SetAttr(attr, int32(L.CheckInt(3)))
	L.Push(lua.LTrue)
	return 1
}

// get_attr(id, name) -> value | nil, err
func (e *Engine) luaGetAttr(L *lua.LState) int {
	ent, attr, err := e.checkEntityAttr(L)
	if err != nil {
		return pushFail(L, lua.LNil, err)
	}
	L.Push(lua.LNumber(ent.Attr(attr)))
	return 1
}

func (e *Engine) checkEntityAttr(L *lua.LState) (*world.Entity, data.Attribute, error) {
	id := checkID(L, 1)
	name := L.CheckString(2)
	ent := e.idx.Arena().Get(id)
	if ent == nil {
		return nil, 0, world.ErrUnknownEntity
	}
	attr, ok := data.ParseAttribute(name)
	if !ok {
		return nil, 0, fmt.Errorf("unknown attribute %q", name)
	}
	return ent, attr, nil
}

func (e *Engine) luaCount(L *lua.LState) int {
	L.Push(lua.LNumber(e.idx.Count()))
	return 1
}

func (e *Engine) luaCells(L *lua.LState) int {
	L.Push(lua.LNumber(e.idx.Cells()))
	return 1
}

// --- Lua helpers ---

func pushFail(L *lua.LState, first lua.LValue, err error) int {
	L.Push(first)
	L.Push(lua.LString(err.Error()))
	return 2
}

// Entity ids travel as Lua numbers; generations stay far below 2^21, so the
// 64-bit id fits a float64 exactly.
func idValue(id ecs.EntityID) lua.LValue {
	return lua.LNumber(uint64(id))
}

func checkID(L *lua.LState, n int) ecs.EntityID {
	return ecs.EntityID(uint64(L.CheckNumber(n)))
}

// checkArchetype accepts an archetype name or its numeric identifier.
func checkArchetype(L *lua.LState, n int) (data.Archetype, error) {
	switch v := L.CheckAny(n).(type) {
	case lua.LString:
		def, ok := data.ParseArchetype(string(v))
		if !ok {
			return 0, fmt.Errorf("archetype %q: %w", string(v), data.ErrUnknownArchetype)
		}
		return def, nil
	case lua.LNumber:
		if v < 0 || v > 255 {
			return 0, fmt.Errorf("archetype %v: %w", v, data.ErrUnknownArchetype)
		}
		return data.Archetype(v), nil
	default:
		return 0, fmt.Errorf("archetype must be a name or number, got %s", v.Type())
	}
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
