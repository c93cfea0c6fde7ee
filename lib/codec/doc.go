// Package codec provides the byte encodings used for keys, values and list
// elements, a registry that binds Go types to codecs, and the upgrade
// context used when a collection was written with an older codec version.
//
// Built-in codecs:
//
//	fx:i64 fx:i32 fx:i16 fx:i8   signed integers, big-endian with flipped sign bit
//	fx:u64                       unsigned 64-bit integers, big-endian
//	fx:f64 fx:f32                IEEE floats, order preserving bit transform
//	fx:bool                      one byte
//	fx:string:utf8               UTF-8 bytes, unsigned lexicographic order
//	fx:bytes:lenlex              raw bytes, shorter first, then lexicographic
//
// Every integer width has its own id. A collection created with fx:i32 keys
// cannot be opened with an fx:i64 codec.
//
// Custom types are registered with the generic helper:
//
//	err := codec.Register[Point](registry, PointCodec{})
//	c, err := codec.Lookup[Point](registry)
package codec
