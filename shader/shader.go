package shader

import "strings"

// ────────────────────────────────── Desktop GL ──────────────────────────────────

const vertexShaderSourceGL = `#version 410 core
layout (location = 0) in vec2 in_vert;
out vec2 frag_uv;
void main() {
    frag_uv = in_vert * 0.5 + 0.5;
    gl_Position = vec4(in_vert, 0.0, 1.0);
}
`

// ──────────────────────────── Presentation (WebGL2) ─────────────────────────────

// Uniform names of the presentation shader.
const (
	UniformResolution      = "iResolution"
	UniformVideo           = "iVideo"
	UniformVideoResolution = "iVideoResolution"
	UniformSpectrum        = "iSpectrum"
	UniformLevel           = "iLevel"
)

const presentPreamble = `#version 300 es
precision highp float;
precision highp int;

uniform vec3      iResolution;
uniform sampler2D iVideo;
uniform vec2      iVideoResolution;

in vec2 frag_uv;
out vec4 fragColor;
`

const spectrumUniforms = `
uniform sampler2D iSpectrum;
uniform float     iLevel;

const float STRIP = 0.2;
`

// Letterboxes the video into the framebuffer. The image rows are stored top
// down, so v is flipped.
const videoFunc = `
vec4 video(vec2 uv) {
    if (iVideoResolution.x <= 0.0 || iVideoResolution.y <= 0.0) {
        return vec4(0.0, 0.0, 0.0, 1.0);
    }
    float screenAspect = iResolution.x / iResolution.y;
    float videoAspect = iVideoResolution.x / iVideoResolution.y;
    vec2 scale = vec2(1.0);
    if (screenAspect > videoAspect) {
        scale.x = videoAspect / screenAspect;
    } else {
        scale.y = screenAspect / videoAspect;
    }
    vec2 p = (uv - 0.5) / scale + 0.5;
    if (any(lessThan(p, vec2(0.0))) || any(greaterThan(p, vec2(1.0)))) {
        return vec4(0.0, 0.0, 0.0, 1.0);
    }
    vec4 c = texture(iVideo, vec2(p.x, 1.0 - p.y));
    return vec4(c.rgb * c.a, 1.0);
}
`

const spectrumFunc = `
vec4 spectrum(vec2 uv) {
    float h = uv.y / STRIP;
    float bin = texture(iSpectrum, vec2(uv.x, 0.5)).r;
    vec3 bar = mix(vec3(0.1, 0.8, 0.3), vec3(0.9, 0.2, 0.1), h);
    vec3 bg = vec3(0.05);
    if (uv.x < 0.01) {
        return vec4(h < iLevel ? vec3(1.0) : bg, 1.0);
    }
    return vec4(h < bin ? bar : bg, 1.0);
}
`

const mainWithSpectrum = `
void main() {
    if (frag_uv.y < STRIP) {
        fragColor = spectrum(frag_uv);
        return;
    }
    fragColor = video(frag_uv);
}
`

const mainVideoOnly = `
void main() {
    fragColor = video(frag_uv);
}
`

// ────────────────────────────────── Public API ─────────────────────────────────

func GenerateVertexShader() string {
	return vertexShaderSourceGL
}

// GetPresentFragmentShader returns the WebGL2 source drawing the video frame,
// optionally over a strip showing the audio spectrum and level.
func GetPresentFragmentShader(withSpectrum bool) string {
	var b strings.Builder
	b.WriteString(presentPreamble)
	if withSpectrum {
		b.WriteString(spectrumUniforms)
	}
	b.WriteString(videoFunc)
	if withSpectrum {
		b.WriteString(spectrumFunc)
		b.WriteString(mainWithSpectrum)
	} else {
		b.WriteString(mainVideoOnly)
	}
	return b.String()
}
