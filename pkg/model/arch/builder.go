package arch

import "github.com/cyclopcam/detrain/pkg/model"

// builder tracks the activation shape while walking through a network's layers
type builder struct {
	w, h, c int
	layers  []model.LayerStat
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func (b *builder) convStat(kernel, stride, in, out int) model.LayerStat {
	w := ceilDiv(b.w, stride)
	h := ceilDiv(b.h, stride)
	return model.LayerStat{
		Params:      int64(kernel*kernel*in*out + out),
		Activations: int64(w * h * out),
		Flops:       int64(2 * kernel * kernel * in * out * w * h),
	}
}

func (b *builder) conv(name string, kernel, stride, out int) {
	s := b.convStat(kernel, stride, b.c, out)
	s.Name = name
	b.layers = append(b.layers, s)
	b.w = ceilDiv(b.w, stride)
	b.h = ceilDiv(b.h, stride)
	b.c = out
}

func (b *builder) pool(name string, kernel, stride int) {
	w := ceilDiv(b.w, stride)
	h := ceilDiv(b.h, stride)
	b.layers = append(b.layers, model.LayerStat{
		Name:        name,
		Activations: int64(w * h * b.c),
		Flops:       int64(kernel * kernel * w * h * b.c),
	})
	b.w, b.h = w, h
}

// A fire module is a 1x1 squeeze, followed by parallel 1x1 and 3x3 expansions
func (b *builder) fire(name string, squeeze, expand1, expand3 int) {
	sq := b.convStat(1, 1, b.c, squeeze)
	e1 := b.convStat(1, 1, squeeze, expand1)
	e3 := b.convStat(3, 1, squeeze, expand3)
	b.layers = append(b.layers, model.LayerStat{
		Name:        name,
		Params:      sq.Params + e1.Params + e3.Params,
		Activations: sq.Activations + e1.Activations + e3.Activations,
		Flops:       sq.Flops + e1.Flops + e3.Flops,
	})
	b.c = expand1 + expand3
}

// A bottleneck residual block: 1x1 reduce, 3x3, 1x1 expand, plus a projection
// shortcut when the shape changes
func (b *builder) bottleneck(name string, mid, out, stride int) {
	in := b.c
	a := b.convStat(1, stride, in, mid)
	ow, oh := b.w, b.h
	b.w, b.h = ceilDiv(b.w, stride), ceilDiv(b.h, stride)
	m := b.convStat(3, 1, mid, mid)
	c := b.convStat(1, 1, mid, out)
	total := model.LayerStat{
		Name:        name,
		Params:      a.Params + m.Params + c.Params,
		Activations: a.Activations + m.Activations + c.Activations,
		Flops:       a.Flops + m.Flops + c.Flops,
	}
	if in != out || stride != 1 {
		b.w, b.h = ow, oh
		sc := b.convStat(1, stride, in, out)
		b.w, b.h = ceilDiv(b.w, stride), ceilDiv(b.h, stride)
		total.Params += sc.Params
		total.Activations += sc.Activations
		total.Flops += sc.Flops
	}
	b.layers = append(b.layers, total)
	b.c = out
}
