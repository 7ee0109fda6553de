package skeleton

import (
	"strconv"

	"github.com/redwerk/plugin-Library/blunder"
	"github.com/redwerk/plugin-Library/serial"
)

// Attribute map keys of the serialized node form.
const (
	attrLKey     = "lkey"
	attrRKey     = "rkey"
	attrEntries  = "entries"
	attrSubnodes = "subnodes"
	attrNodeMin  = "node_min"
	attrSize     = "size"
)

// TranslatorBundle carries the optional translators a node translator
// composes with: one for keys, one for a node's local entries map. Passing
// the bundle explicitly (rather than closing over the enclosing tree)
// keeps every App/Rev call self-describing.
type TranslatorBundle struct {
	KeyTranslator     serial.Translator // optional; applied to boundary and entry keys
	EntriesTranslator serial.Translator // optional; replaces the default ordered pair-list form
}

// NodeTranslator converts between a bare node and a generic attribute map:
//
//	lkey     - translated left boundary (raw if no key translator)
//	rkey     - translated right boundary
//	entries  - translated entries map
//	subnodes - (non-leaf only) ordered pairs of child archiver-meta and
//	           child subtree size
//
// Translating a node that is not bare is a programming error.
type NodeTranslator struct {
	tree   *SkeletonBTreeMap
	bundle TranslatorBundle
}

// MakeNodeTranslator creates the node translator for this tree.
func (tree *SkeletonBTreeMap) MakeNodeTranslator(bundle TranslatorBundle) (translator *NodeTranslator) {
	translator = &NodeTranslator{tree: tree, bundle: bundle}
	return
}

func (translator *NodeTranslator) appKey(key Key) (out interface{}, err error) {
	if (nil == key) || (nil == translator.bundle.KeyTranslator) {
		out = key
		err = nil
		return
	}
	out, err = translator.bundle.KeyTranslator.App(key)
	return
}

func (translator *NodeTranslator) revKey(in interface{}) (key Key, err error) {
	if (nil == in) || (nil == translator.bundle.KeyTranslator) {
		key = in
		err = nil
		return
	}
	key, err = translator.bundle.KeyTranslator.Rev(in)
	return
}

// appEntries renders an entries map as an ordered list of [key, value]
// pairs, unless the bundle supplies its own form.
func (translator *NodeTranslator) appEntries(entries *skeletonTreeMapStruct) (out interface{}, err error) {
	if nil != translator.bundle.EntriesTranslator {
		out, err = translator.bundle.EntriesTranslator.App(entries)
		return
	}

	pairs := make([]interface{}, 0, entries.Len())
	err = entries.eachInternal(func(key Key, value Value) (keepGoing bool, cbErr error) {
		var outKey interface{}
		outKey, cbErr = translator.appKey(key)
		if nil != cbErr {
			return
		}
		pairs = append(pairs, []interface{}{outKey, value})
		keepGoing = true
		return
	})
	if nil != err {
		return
	}
	out = pairs
	return
}

func (translator *NodeTranslator) revEntries(in interface{}) (entries *skeletonTreeMapStruct, err error) {
	if nil != translator.bundle.EntriesTranslator {
		var obj interface{}
		obj, err = translator.bundle.EntriesTranslator.Rev(in)
		if nil != err {
			return
		}
		entries, ok := obj.(*skeletonTreeMapStruct)
		if !ok {
			err = blunder.NewError(blunder.DataFormatError, "entries translator returned %T, not an entries map", obj)
			return nil, err
		}
		return entries, nil
	}

	pairs, ok := in.([]interface{})
	if !ok {
		err = blunder.NewError(blunder.DataFormatError, "entries are %T, not a pair list", in)
		return
	}

	entries = newSkeletonTreeMap(translator.tree.compare)
	for _, rawPair := range pairs {
		pair, ok := rawPair.([]interface{})
		if !ok || (2 != len(pair)) {
			err = blunder.NewError(blunder.DataFormatError, "entry %v is not a [key, value] pair", rawPair)
			return
		}
		var key Key
		key, err = translator.revKey(pair[0])
		if nil != err {
			return
		}
		ok, err = entries.putInternal(key, pair[1])
		if nil != err {
			return
		}
		if !ok {
			err = blunder.NewError(blunder.DataFormatError, "duplicate entry key %v", key)
			return
		}
	}
	err = nil
	return
}

// App converts a bare node to its attribute map.
func (translator *NodeTranslator) App(obj interface{}) (intermediate interface{}, err error) {
	node, ok := obj.(*skeletonNodeStruct)
	if !ok {
		err = blunder.NewError(blunder.IllegalStateError, "node translator given %T, not a node", obj)
		return
	}
	if !node.isBare() {
		err = blunder.NewError(blunder.IllegalStateError, "cannot translate non-bare node %s", node.rangeString())
		return
	}

	attrs := make(map[string]interface{})

	attrs[attrLKey], err = translator.appKey(node.lkey)
	if nil != err {
		return
	}
	attrs[attrRKey], err = translator.appKey(node.rkey)
	if nil != err {
		return
	}
	attrs[attrEntries], err = translator.appEntries(node.entries)
	if nil != err {
		return
	}

	if !node.leaf {
		subnodes := make([]interface{}, 0, len(node.nodes))
		for _, child := range node.nodes {
			// a bare node has nothing but ghost children
			ghost, isGhost := child.(*ghostNodeStruct)
			if !isGhost {
				err = blunder.NewError(blunder.IllegalStateError, "bare node %s has live child %s", node.rangeString(), child.rangeString())
				return
			}
			subnodes = append(subnodes, []interface{}{ghost.meta, ghost.size})
		}
		attrs[attrSubnodes] = subnodes
	}

	intermediate = attrs
	err = nil
	return
}

// Rev rebuilds a bare node from its attribute map, constructing one ghost
// per subnodes pair and verifying the node's structural integrity. Any
// shape violation is a data-format error.
func (translator *NodeTranslator) Rev(intermediate interface{}) (obj interface{}, err error) {
	var (
		entries *skeletonTreeMapStruct
		lkey    Key
		rkey    Key
	)

	attrs, err := asAttributeMap(intermediate)
	if nil != err {
		return
	}

	lkey, err = translator.revKey(attrs[attrLKey])
	if nil != err {
		return
	}
	rkey, err = translator.revKey(attrs[attrRKey])
	if nil != err {
		return
	}

	rawEntries, ok := attrs[attrEntries]
	if !ok {
		err = blunder.NewError(blunder.DataFormatError, "node attribute map has no entries")
		return
	}
	entries, err = translator.revEntries(rawEntries)
	if nil != err {
		return
	}

	rawSubnodes, notLeaf := attrs[attrSubnodes]

	tree := translator.tree
	node := tree.newNode(lkey, rkey, !notLeaf)
	node.entries = entries
	node.entries.Deflate() // a rebuilt node arrives bare
	node.size = entries.Len()

	if notLeaf {
		subnodes, ok := rawSubnodes.([]interface{})
		if !ok {
			err = blunder.NewError(blunder.DataFormatError, "subnodes are %T, not a pair list", rawSubnodes)
			return
		}
		if len(subnodes) != entries.Len()+1 {
			err = blunder.NewError(blunder.DataFormatError, "node has %d entries but %d subnodes", entries.Len(), len(subnodes))
			return
		}

		// the slots' boundaries come from the rebuilt entries
		var lkeys, rkeys []Key
		lkeys, rkeys, err = node.keyPairs()
		if nil != err {
			return
		}

		for index, rawPair := range subnodes {
			pair, ok := rawPair.([]interface{})
			if !ok || (2 != len(pair)) {
				err = blunder.NewError(blunder.DataFormatError, "subnode %v is not a [meta, size] pair", rawPair)
				return
			}
			var ghostSize int
			ghostSize, err = asInt(pair[1])
			if nil != err {
				return
			}

			ghost := &ghostNodeStruct{
				lkey:   lkeys[index],
				rkey:   rkeys[index],
				size:   ghostSize,
				parent: node,
				meta:   pair[0],
			}
			node.nodes = append(node.nodes, ghost)
			node.ghosts++
			node.size += ghostSize
		}
	}

	err = tree.verifyNodeIntegrity(node, true)
	if nil != err {
		err = blunder.AddError(err, blunder.DataFormatError)
		return
	}

	obj = node
	err = nil
	return
}

// TreeTranslator serializes the tree shell together with the root node's
// fields: node_min, size, the root's entries, and (if the root is not a
// leaf) the root's subnodes.
type TreeTranslator struct {
	compare Compare
	bundle  TranslatorBundle
}

func NewTreeTranslator(compare Compare, bundle TranslatorBundle) (translator *TreeTranslator) {
	translator = &TreeTranslator{compare: compare, bundle: bundle}
	return
}

// App converts a tree whose root is bare to its attribute map.
func (translator *TreeTranslator) App(obj interface{}) (intermediate interface{}, err error) {
	tree, ok := obj.(*SkeletonBTreeMap)
	if !ok {
		err = blunder.NewError(blunder.IllegalStateError, "tree translator given %T, not a tree", obj)
		return
	}

	rootAttrs, err := tree.MakeNodeTranslator(translator.bundle).App(tree.root)
	if nil != err {
		return
	}
	rootMap := rootAttrs.(map[string]interface{})

	attrs := make(map[string]interface{})
	attrs[attrNodeMin] = tree.nodeMin
	attrs[attrSize] = tree.size
	attrs[attrEntries] = rootMap[attrEntries]
	if !tree.root.leaf {
		attrs[attrSubnodes] = rootMap[attrSubnodes]
	}

	intermediate = attrs
	err = nil
	return
}

// Rev reconstructs a tree, revs its root from the same attribute map (the
// root's boundaries are the absent lkey/rkey keys, which is exactly the
// nil sentinel pair), and checks the recorded size against the root's
// subtree size.
func (translator *TreeTranslator) Rev(intermediate interface{}) (obj interface{}, err error) {
	var (
		nodeMin int
		size    int
	)

	attrs, err := asAttributeMap(intermediate)
	if nil != err {
		return
	}

	nodeMin, err = asInt(attrs[attrNodeMin])
	if nil != err {
		return
	}
	size, err = asInt(attrs[attrSize])
	if nil != err {
		return
	}

	tree, err := NewSkeletonBTreeMap(translator.compare, nodeMin)
	if nil != err {
		err = blunder.AddError(err, blunder.DataFormatError)
		return
	}

	rootObj, err := tree.MakeNodeTranslator(translator.bundle).Rev(attrs)
	if nil != err {
		return
	}
	tree.root = rootObj.(*skeletonNodeStruct)
	tree.size = size

	if tree.size != tree.root.totalSize() {
		err = blunder.NewError(blunder.DataFormatError, "mismatched sizes - tree: %d; root: %d", tree.size, tree.root.totalSize())
		return
	}

	obj = tree
	err = nil
	return
}

// IntKeyTranslator renders int keys as decimal strings, which survive any
// codec unchanged.
type IntKeyTranslator struct{}

func (IntKeyTranslator) App(obj interface{}) (intermediate interface{}, err error) {
	key, ok := obj.(int)
	if !ok {
		err = blunder.NewError(blunder.DataFormatError, "IntKeyTranslator given %T, not an int", obj)
		return
	}
	intermediate = strconv.Itoa(key)
	err = nil
	return
}

func (IntKeyTranslator) Rev(intermediate interface{}) (obj interface{}, err error) {
	str, ok := intermediate.(string)
	if !ok {
		err = blunder.NewError(blunder.DataFormatError, "IntKeyTranslator given %T, not a string", intermediate)
		return
	}
	key, convErr := strconv.Atoi(str)
	if nil != convErr {
		err = blunder.AddError(convErr, blunder.DataFormatError)
		return
	}
	obj = key
	err = nil
	return
}

// asAttributeMap coerces the forms a codec may hand back for a string-keyed
// map.
func asAttributeMap(intermediate interface{}) (attrs map[string]interface{}, err error) {
	switch typed := intermediate.(type) {
	case map[string]interface{}:
		attrs = typed
	case map[interface{}]interface{}:
		attrs = make(map[string]interface{}, len(typed))
		for rawKey, value := range typed {
			strKey, ok := rawKey.(string)
			if !ok {
				err = blunder.NewError(blunder.DataFormatError, "attribute key %v is %T, not a string", rawKey, rawKey)
				return
			}
			attrs[strKey] = value
		}
	default:
		err = blunder.NewError(blunder.DataFormatError, "attribute map is %T", intermediate)
		return
	}
	err = nil
	return
}

// asInt coerces the integer forms a codec may hand back.
func asInt(value interface{}) (result int, err error) {
	switch typed := value.(type) {
	case int:
		result = typed
	case int8:
		result = int(typed)
	case int16:
		result = int(typed)
	case int32:
		result = int(typed)
	case int64:
		result = int(typed)
	case uint8:
		result = int(typed)
	case uint16:
		result = int(typed)
	case uint32:
		result = int(typed)
	case uint64:
		result = int(typed)
	default:
		err = blunder.NewError(blunder.DataFormatError, "%v is %T, not an integer", value, value)
		return
	}
	err = nil
	return
}
