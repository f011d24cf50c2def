// Package renderer presents the receiver's video and audio analysis on a GL
// surface.
package renderer

import (
	"image"
	"image/draw"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	gst "github.com/richinsley/goshadertranslator"

	"github.com/richinsley/goreceiver/graphics"
	"github.com/richinsley/goreceiver/shader"
	"github.com/richinsley/goreceiver/translator"
	"github.com/richinsley/goreceiver/video"
)

var quadVertices = []float32{
	-1.0, -1.0,
	1.0, -1.0,
	-1.0, 1.0,
	1.0, 1.0,
}

// Analysis supplies the spectrum strip. analysis.Analyzer implements it.
type Analysis interface {
	Spectrum() []float32
	Level() float32
}

// Presenter draws the latest sink frame, letterboxed, over an optional
// spectrum strip. Every method runs on the goroutine owning the GL context,
// which is also the goroutine ticking the receiver.
type Presenter struct {
	surface  graphics.Surface
	analysis Analysis
	log      *logrus.Entry

	program      uint32
	quadVAO      uint32
	quadVBO      uint32
	videoTex     uint32
	spectrumTex  uint32
	videoW       int
	videoH       int
	staging      *image.NRGBA
	spectrumBins int

	resolutionLoc      int32
	videoLoc           int32
	videoResolutionLoc int32
	spectrumLoc        int32
	levelLoc           int32

	unregister func()
}

// NewPresenter compiles the presentation program on the current GL context
// and registers with sink. analysis may be nil.
func NewPresenter(surface graphics.Surface, sink *video.Sink, analysis Analysis) (*Presenter, error) {
	if err := gl.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize OpenGL")
	}
	p := &Presenter{
		surface:  surface,
		analysis: analysis,
		log:      logrus.WithField("component", "renderer"),
	}
	p.log.WithField("version", gl.GoStr(gl.GetString(gl.VERSION))).Info("OpenGL initialized")

	if err := p.initProgram(); err != nil {
		return nil, err
	}
	p.initQuad()
	p.videoTex = newTexture()
	if analysis != nil {
		p.spectrumTex = newTexture()
	}

	if sink != nil {
		p.unregister = sink.Register(p.upload)
	}
	return p, nil
}

func (p *Presenter) initProgram() error {
	tr, err := translator.GetTranslator()
	if err != nil {
		return err
	}
	src := shader.GetPresentFragmentShader(p.analysis != nil)
	fsShader, err := tr.TranslateShader(src, "fragment", gst.ShaderSpecWebGL2, gst.OutputFormatGLSL410)
	if err != nil {
		return errors.Wrap(err, "fragment shader translation failed")
	}
	p.program, err = newProgram(shader.GenerateVertexShader(), fsShader.Code)
	if err != nil {
		return errors.Wrap(err, "failed to create presentation program")
	}

	uniformMap := fsShader.Variables
	location := func(name string) int32 {
		if v, ok := uniformMap[name]; ok {
			return gl.GetUniformLocation(p.program, gl.Str(v.MappedName+"\x00"))
		}
		return -1
	}
	p.resolutionLoc = location(shader.UniformResolution)
	p.videoLoc = location(shader.UniformVideo)
	p.videoResolutionLoc = location(shader.UniformVideoResolution)
	p.spectrumLoc = location(shader.UniformSpectrum)
	p.levelLoc = location(shader.UniformLevel)
	return nil
}

func (p *Presenter) initQuad() {
	gl.GenVertexArrays(1, &p.quadVAO)
	gl.GenBuffers(1, &p.quadVBO)
	gl.BindVertexArray(p.quadVAO)
	gl.BindBuffer(gl.ARRAY_BUFFER, p.quadVBO)
	gl.BufferData(gl.ARRAY_BUFFER, len(quadVertices)*4, gl.Ptr(quadVertices), gl.STATIC_DRAW)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointer(0, 2, gl.FLOAT, false, 2*4, gl.PtrOffset(0))
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	gl.BindVertexArray(0)
}

func newTexture() uint32 {
	var tex uint32
	gl.GenTextures(1, &tex)
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return tex
}

// upload copies a published frame into the video texture. It runs inside
// Sink.Publish and does not keep the image.
func (p *Presenter) upload(f video.Frame) {
	if f.Image == nil {
		return
	}
	img, ok := f.Image.(*image.NRGBA)
	if !ok {
		b := f.Image.Bounds()
		if p.staging == nil || p.staging.Bounds() != b {
			p.staging = image.NewNRGBA(b)
		}
		draw.Draw(p.staging, b, f.Image, b.Min, draw.Src)
		img = p.staging
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return
	}

	gl.BindTexture(gl.TEXTURE_2D, p.videoTex)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, int32(img.Stride/4))
	if w != p.videoW || h != p.videoH {
		gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(w), int32(h), 0, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
		p.videoW, p.videoH = w, h
		p.log.WithFields(logrus.Fields{"width": w, "height": h}).Debug("Video texture resized")
	} else {
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(w), int32(h), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
	}
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, 0)
	gl.BindTexture(gl.TEXTURE_2D, 0)
}

func (p *Presenter) uploadSpectrum() float32 {
	bins := p.analysis.Spectrum()
	if len(bins) == 0 {
		return 0
	}
	gl.BindTexture(gl.TEXTURE_2D, p.spectrumTex)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 4)
	if len(bins) != p.spectrumBins {
		gl.TexImage2D(gl.TEXTURE_2D, 0, gl.R32F, int32(len(bins)), 1, 0, gl.RED, gl.FLOAT, gl.Ptr(bins))
		p.spectrumBins = len(bins)
	} else {
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(len(bins)), 1, gl.RED, gl.FLOAT, gl.Ptr(bins))
	}
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return p.analysis.Level()
}

// Draw renders one frame. The caller ends the frame on the surface.
func (p *Presenter) Draw() {
	width, height := p.surface.GetFramebufferSize()
	gl.Viewport(0, 0, int32(width), int32(height))
	gl.ClearColor(0, 0, 0, 1)
	gl.Clear(gl.COLOR_BUFFER_BIT)

	gl.UseProgram(p.program)
	if p.resolutionLoc >= 0 {
		gl.Uniform3f(p.resolutionLoc, float32(width), float32(height), 1)
	}
	if p.videoResolutionLoc >= 0 {
		gl.Uniform2f(p.videoResolutionLoc, float32(p.videoW), float32(p.videoH))
	}
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, p.videoTex)
	if p.videoLoc >= 0 {
		gl.Uniform1i(p.videoLoc, 0)
	}

	if p.analysis != nil {
		level := p.uploadSpectrum()
		gl.ActiveTexture(gl.TEXTURE1)
		gl.BindTexture(gl.TEXTURE_2D, p.spectrumTex)
		if p.spectrumLoc >= 0 {
			gl.Uniform1i(p.spectrumLoc, 1)
		}
		if p.levelLoc >= 0 {
			gl.Uniform1f(p.levelLoc, level)
		}
	}

	gl.BindVertexArray(p.quadVAO)
	gl.DrawArrays(gl.TRIANGLE_STRIP, 0, 4)
	gl.BindVertexArray(0)

	gl.ActiveTexture(gl.TEXTURE1)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	gl.UseProgram(0)
}

// Shutdown unregisters from the sink and frees GL objects.
func (p *Presenter) Shutdown() {
	if p.unregister != nil {
		p.unregister()
	}
	gl.DeleteProgram(p.program)
	textures := []uint32{p.videoTex}
	if p.spectrumTex != 0 {
		textures = append(textures, p.spectrumTex)
	}
	gl.DeleteTextures(int32(len(textures)), &textures[0])
	gl.DeleteBuffers(1, &p.quadVBO)
	gl.DeleteVertexArrays(1, &p.quadVAO)
}

func newProgram(vertexShaderSource, fragmentShaderSource string) (uint32, error) {
	vertexShader, err := compileShader(vertexShaderSource, gl.VERTEX_SHADER)
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(vertexShader)
	fragmentShader, err := compileShader(fragmentShaderSource, gl.FRAGMENT_SHADER)
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(fragmentShader)

	program := gl.CreateProgram()
	gl.AttachShader(program, vertexShader)
	gl.AttachShader(program, fragmentShader)
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(program, logLength, nil, gl.Str(log))
		gl.DeleteProgram(program)
		return 0, errors.Errorf("failed to link program: %v", log)
	}
	return program, nil
}

func compileShader(source string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		logText := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(logText))
		gl.DeleteShader(shader)
		return 0, errors.Errorf("failed to compile shader: %v", logText)
	}
	return shader, nil
}
