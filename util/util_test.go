package util_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	. "github.com/shieldproject/relstore/util"
)

var _ = Describe("StringifyKeys", func() {
	It("converts nested YAML maps", func() {
		in := map[interface{}]interface{}{
			"top": map[interface{}]interface{}{
				"inner": []interface{}{
					map[interface{}]interface{}{"k": "v"},
				},
			},
		}

		Ω(StringifyKeys(in)).Should(Equal(map[string]interface{}{
			"top": map[string]interface{}{
				"inner": []interface{}{
					map[string]interface{}{"k": "v"},
				},
			},
		}))
	})

	It("descends into maps that already have string keys", func() {
		in := map[string]interface{}{
			"props": map[interface{}]interface{}{1: "one"},
		}
		Ω(StringifyKeys(in)).Should(Equal(map[string]interface{}{
			"props": map[string]interface{}{"1": "one"},
		}))
	})

	It("leaves scalars alone", func() {
		Ω(StringifyKeys("x")).Should(Equal("x"))
		Ω(StringifyKeys(42)).Should(Equal(42))
	})
})
